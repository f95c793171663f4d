// SPDX-License-Identifier: MIT

// Package hls reads progress out of a live manifest. The terminal segment
// index is the only signal the health monitor consumes from disk.
package hls

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LastSegmentIndex parses a live playlist and returns the index of its
// terminal segment: the media-sequence base plus the number of segment URIs
// minus one. A manifest without segments returns -1.
func LastSegmentIndex(playlist string) (int64, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))

	var mediaSequence int64
	var segments int64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:") {
			raw := strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return -1, fmt.Errorf("invalid media sequence: %s", raw)
			}
			mediaSequence = n
			continue
		}

		// URI line: one per segment.
		if !strings.HasPrefix(line, "#") {
			segments++
		}
	}
	if err := scanner.Err(); err != nil {
		return -1, err
	}

	if segments == 0 {
		return -1, nil
	}
	return mediaSequence + segments - 1, nil
}

// LastSegmentIndexFile reads the manifest at path and returns its terminal
// segment index. A missing manifest returns -1 without error: before the
// transcoder writes its first playlist there is simply no progress yet.
func LastSegmentIndexFile(path string) (int64, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, err
	}
	return LastSegmentIndex(string(data))
}
