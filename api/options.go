package api

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Format identifies how raw source bytes are decoded into records.
type Format string

const (
	// FormatDelimited is row-oriented delimited text (CSV-style).
	FormatDelimited Format = "delimited"
	// FormatJSONL is line-delimited JSON objects.
	FormatJSONL Format = "jsonl"
	// FormatParquet is columnar binary with an embedded schema.
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatDelimited, FormatJSONL, FormatParquet:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: unknown format %q", ErrInvalidOption, s)
}

// FailureMode controls how malformed rows are handled.
type FailureMode string

const (
	// Permissive routes malformed rows to the rescue payload and keeps going.
	Permissive FailureMode = "PERMISSIVE"
	// Failfast aborts the whole batch on the first malformed row.
	Failfast FailureMode = "FAILFAST"
)

// Options is the validated, structured form of the key=value option list an
// ingestion call accepts. Unrecognized keys are rejected up front rather
// than silently accepted.
type Options struct {
	Format      Format
	Separator   rune
	HasHeader   bool
	FailureMode FailureMode
	MergeSchema bool
}

// DefaultOptions returns the documented defaults for a format:
// comma separator, no header, PERMISSIVE, no schema merging.
func DefaultOptions(format Format) Options {
	return Options{
		Format:      format,
		Separator:   ',',
		FailureMode: Permissive,
	}
}

// ParseOptions builds Options for a format from raw key=value pairs.
// Recognized keys: separator, hasHeader, failureMode, mergeSchema.
func ParseOptions(format Format, raw map[string]string) (Options, error) {
	opts := DefaultOptions(format)

	for key, val := range raw {
		switch key {
		case "separator":
			if format != FormatDelimited {
				return Options{}, fmt.Errorf("%w: separator only applies to the delimited format", ErrInvalidOption)
			}
			r, size := utf8.DecodeRuneInString(val)
			if r == utf8.RuneError || size != len(val) {
				return Options{}, fmt.Errorf("%w: separator must be a single character, got %q", ErrInvalidOption, val)
			}
			opts.Separator = r
		case "hasHeader":
			if format == FormatParquet {
				return Options{}, fmt.Errorf("%w: hasHeader does not apply to the parquet format", ErrInvalidOption)
			}
			b, err := strconv.ParseBool(val)
			if err != nil {
				return Options{}, fmt.Errorf("%w: hasHeader must be a bool, got %q", ErrInvalidOption, val)
			}
			opts.HasHeader = b
		case "failureMode":
			switch FailureMode(val) {
			case Permissive, Failfast:
				opts.FailureMode = FailureMode(val)
			default:
				return Options{}, fmt.Errorf("%w: failureMode must be PERMISSIVE or FAILFAST, got %q", ErrInvalidOption, val)
			}
		case "mergeSchema":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return Options{}, fmt.Errorf("%w: mergeSchema must be a bool, got %q", ErrInvalidOption, val)
			}
			opts.MergeSchema = b
		default:
			return Options{}, fmt.Errorf("%w: unrecognized option %q", ErrInvalidOption, key)
		}
	}

	return opts, nil
}
