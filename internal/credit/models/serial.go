package models

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "karbon/pkg/domain-errors"
)

// Serial numbers follow PREFIX-VVVV-PPP-NNNNNN:
// 4-digit vintage year, 3-digit zero-padded project ordinal,
// 6-digit zero-padded per-project-per-vintage sequence.
//
// Serials are unique and strictly increasing within a (project, vintage) pair.

// Serial is a parsed credit serial number.
type Serial struct {
	Prefix         string
	Vintage        int
	ProjectOrdinal int
	Sequence       int
}

// FormatSerial renders a serial number. The project ordinal wraps at three
// digits so the deterministic fallback hash stays in range.
func FormatSerial(prefix string, vintage, projectOrdinal, sequence int) string {
	return fmt.Sprintf("%s-%04d-%03d-%06d", prefix, vintage, projectOrdinal%1000, sequence)
}

// ParseSerial parses a serial number back into its components.
func ParseSerial(s string) (Serial, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return Serial{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed serial %q", s)
	}
	vintage, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return Serial{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed vintage in serial %q", s)
	}
	ordinal, err := strconv.Atoi(parts[2])
	if err != nil || len(parts[2]) != 3 {
		return Serial{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed project ordinal in serial %q", s)
	}
	seq, err := strconv.Atoi(parts[3])
	if err != nil || len(parts[3]) != 6 {
		return Serial{}, dErrors.Newf(dErrors.CodeInvalidInput, "malformed sequence in serial %q", s)
	}
	return Serial{Prefix: parts[0], Vintage: vintage, ProjectOrdinal: ordinal, Sequence: seq}, nil
}

// SequenceOf extracts the trailing sequence from a serial, or 0 when the
// serial does not parse. Used when deriving the next sequence from existing
// rows; unparseable legacy serials simply do not advance the counter.
func SequenceOf(serial string) int {
	s, err := ParseSerial(serial)
	if err != nil {
		return 0
	}
	return s.Sequence
}

// String renders the serial back into canonical form.
func (s Serial) String() string {
	return FormatSerial(s.Prefix, s.Vintage, s.ProjectOrdinal, s.Sequence)
}
