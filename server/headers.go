package server

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/cyp0633/libdav/server/dav"
	"github.com/cyp0633/libdav/server/tree"
)

// HTTPDepth reads the Depth header. "infinity" yields tree.DepthInfinity,
// a non-negative integer yields itself, and anything else yields def.
func HTTPDepth(r *http.Request, def int) int {
	v := strings.TrimSpace(r.Header.Get(headerDepth))
	if v == "" {
		return def
	}
	if strings.EqualFold(v, "infinity") {
		return tree.DepthInfinity
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// propfindDepth applies the PROPFIND policy: only the literal "0" selects the
// node alone. Every other value, including a missing, malformed or infinite
// depth, means the node and its direct children.
func propfindDepth(r *http.Request) int {
	if r.Header.Get(headerDepth) == "0" {
		return 0
	}
	return 1
}

var rangePattern = regexp.MustCompile(`(?i)^bytes=([0-9]*)-([0-9]*)$`)

// byteRange is a parsed Range header. A bound of -1 is absent.
type byteRange struct {
	start, end int64
}

// httpRange parses a single byte range. ok is false when the header is
// missing or not a single well-formed range, in which case it is ignored.
func httpRange(r *http.Request) (rng byteRange, ok bool) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(r.Header.Get(headerRange)))
	if m == nil || (m[1] == "" && m[2] == "") {
		return byteRange{}, false
	}
	rng = byteRange{start: -1, end: -1}
	if m[1] != "" {
		rng.start = parseOffset(m[1])
	}
	if m[2] != "" {
		rng.end = parseOffset(m[2])
	}
	return rng, true
}

// parseOffset parses a run of digits. Offsets too large for int64 saturate,
// so they still compare beyond any entity size.
func parseOffset(digits string) int64 {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return n
}

// resolve clamps the range against size and returns inclusive offsets.
func (rng byteRange) resolve(size int64) (start, end int64, err error) {
	if rng.start >= 0 {
		start = rng.start
		end = size - 1
		if rng.end >= 0 {
			end = rng.end
		}
		if start >= size {
			return 0, 0, dav.ErrRequestedRangeNotSatisfiable.With("The start offset (%d) exceeded the size of the entity (%d)", start, size)
		}
		if end < start {
			return 0, 0, dav.ErrRequestedRangeNotSatisfiable.With("The end offset (%d) is lower than the start offset (%d)", end, start)
		}
		if end >= size {
			end = size - 1
		}
		return start, end, nil
	}

	// suffix range: the last n bytes
	start = size - rng.end
	if start < 0 {
		start = 0
	}
	end = size - 1
	if end < start {
		return 0, 0, dav.ErrRequestedRangeNotSatisfiable.With("The entity is empty")
	}
	return start, end, nil
}

// httpOverwrite parses the Overwrite header, defaulting to true.
func httpOverwrite(r *http.Request) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(r.Header.Get(headerOverwrite))) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	}
	return false, dav.ErrBadRequest.With("The HTTP Overwrite header should be either T or F")
}
