// Package protocol renders mailbox state changes as the exact IMAP wire
// bytes spec.md §6 mandates, and maps internal failures to the error kinds
// of §7. It owns no socket; callers supply an io.Writer.
package protocol

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// WriteExpunge emits one legacy EXPUNGE per id, in ascending order, per
// spec.md §4.4 step 1 and §6 ("* <seq> EXPUNGE\r\n", repeated, seq-numbers
// ascending").
func WriteExpunge(w io.Writer, seqnums []uint32) error {
	sorted := append([]uint32(nil), seqnums...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, seq := range sorted {
		if _, err := fmt.Fprintf(w, "* %d EXPUNGE\r\n", seq); err != nil {
			return err
		}
	}
	return nil
}

// WriteVanished emits a single QRESYNC VANISHED response over the given
// UIDs, compressed into ranges, per spec.md §6 ("* VANISHED <uid-set>\r\n").
func WriteVanished(w io.Writer, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	_, err := fmt.Fprintf(w, "* VANISHED %s\r\n", compressUIDSet(sorted))
	return err
}

// compressUIDSet renders an ascending, deduplicated uid list as a
// comma-separated list of bare numbers and "a:b" ranges.
func compressUIDSet(sorted []uint32) string {
	var parts []string
	i := 0
	for i < len(sorted) {
		start := sorted[i]
		end := start
		j := i + 1
		for j < len(sorted) && sorted[j] == end+1 {
			end = sorted[j]
			j++
		}
		if start == end {
			parts = append(parts, strconv.FormatUint(uint64(start), 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d:%d", start, end))
		}
		i = j
	}
	return strings.Join(parts, ",")
}

// WriteExists emits the EXISTS response, per spec.md §6 ("* <n> EXISTS\r\n").
func WriteExists(w io.Writer, totalMessages int) error {
	_, err := fmt.Fprintf(w, "* %d EXISTS\r\n", totalMessages)
	return err
}

// IdleContinuation is the "+" continuation emitted on entering IDLE.
const IdleContinuation = "+ Idling, send 'DONE' to stop.\r\n"

// WriteIdleContinuation emits IdleContinuation.
func WriteIdleContinuation(w io.Writer) error {
	_, err := io.WriteString(w, IdleContinuation)
	return err
}

// WriteIdleCompleted emits the tagged OK terminating a successful IDLE.
func WriteIdleCompleted(w io.Writer, tag string) error {
	_, err := fmt.Fprintf(w, "%s OK IDLE completed\r\n", tag)
	return err
}

// IdleTimedOutText is the untagged BYE emitted when the configured IDLE
// bound elapses.
const IdleTimedOutText = "* BYE IDLE timed out.\r\n"

// WriteIdleTimedOut emits IdleTimedOutText.
func WriteIdleTimedOut(w io.Writer) error {
	_, err := io.WriteString(w, IdleTimedOutText)
	return err
}

// ShuttingDownText is the untagged BYE emitted when the change bus closes
// out from under an IDLE loop (spec.md §4.6, "a None from the subscription
// emits * BYE Server shutting down.").
const ShuttingDownText = "* BYE Server shutting down.\r\n"

// WriteShuttingDown emits ShuttingDownText.
func WriteShuttingDown(w io.Writer) error {
	_, err := io.WriteString(w, ShuttingDownText)
	return err
}
