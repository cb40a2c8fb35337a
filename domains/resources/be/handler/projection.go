package handler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

// projectableFields is the allow-list for the fields query parameter, matching
// the JSON keys of a resource record.
var projectableFields = map[string]bool{
	"id":                true,
	"typeId":            true,
	"properties":        true,
	"version":           true,
	"previousVersionId": true,
	"createdAt":         true,
	"createdBy":         true,
	"isDeleted":         true,
	"isLatest":          true,
	"aclId":             true,
	"sourceEntityId":    true,
	"targetEntityId":    true,
}

// parseFields splits and validates a comma-separated fields parameter. An
// empty parameter means no projection.
func parseFields(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var fields []string
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !projectableFields[field] {
			return nil, fmt.Errorf("unknown field %q", field)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// project narrows one record to the requested fields; with no fields the
// record passes through untouched.
func project(record persistence.ResourceRecord, rawFields string) (any, error) {
	fields, err := parseFields(rawFields)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return record, nil
	}
	return projectRecord(record, fields)
}

// projectAll narrows a page of records. The returned slice is never nil so
// empty pages render as [] rather than null.
func projectAll(records []persistence.ResourceRecord, fields []string) (any, error) {
	if len(fields) == 0 {
		if records == nil {
			records = []persistence.ResourceRecord{}
		}
		return records, nil
	}

	projected := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row, err := projectRecord(record, fields)
		if err != nil {
			return nil, err
		}
		projected = append(projected, row)
	}
	return projected, nil
}

func projectRecord(record persistence.ResourceRecord, fields []string) (map[string]any, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var full map[string]any
	if err := json.Unmarshal(encoded, &full); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	row := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := full[field]; ok {
			row[field] = value
		}
	}
	return row, nil
}
