package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor marks extraction progress for one source. The watermark bounds the
// incremental window, folder and skip locate the current page inside a run.
// Encoded form: "<watermark RFC3339>|<folderID>|<skip>".
type Cursor struct {
	Watermark time.Time
	FolderID  int64
	Skip      int
}

func (c Cursor) Encode() string {
	return fmt.Sprintf("%s|%d|%d", c.Watermark.UTC().Format(time.RFC3339), c.FolderID, c.Skip)
}

func (c Cursor) IsZero() bool {
	return c.Watermark.IsZero() && c.FolderID == 0 && c.Skip == 0
}

// ParseCursor decodes an encoded cursor. An empty string decodes to the zero
// cursor, which callers treat as "beginning of time".
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	wm, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor watermark %q: %w", parts[0], err)
	}
	folder, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor folder %q: %w", parts[1], err)
	}
	skip, err := strconv.Atoi(parts[2])
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor skip %q: %w", parts[2], err)
	}
	return Cursor{Watermark: wm.UTC(), FolderID: folder, Skip: skip}, nil
}

// CompareCursors orders two cursors by watermark, then folder, then skip.
// Checkpoints may only ever move forward in this ordering.
func CompareCursors(a, b Cursor) int {
	switch {
	case a.Watermark.Before(b.Watermark):
		return -1
	case a.Watermark.After(b.Watermark):
		return 1
	}
	switch {
	case a.FolderID < b.FolderID:
		return -1
	case a.FolderID > b.FolderID:
		return 1
	}
	switch {
	case a.Skip < b.Skip:
		return -1
	case a.Skip > b.Skip:
		return 1
	}
	return 0
}
