package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"

	"github.com/lumenstack/logflow/logmodel"
)

const maxFingerprintFrames = 3

// frameLineRe matches common "at func (file:line:col)" / "func@file:line:col"
// stack-frame shapes across JS/Python/Go-style traces; it is deliberately
// loose since exact formats vary by client SDK.
var frameLineRe = regexp.MustCompile(`^\s*(?:at\s+)?([\w.$<>\[\] ]*?)\s*[@(]?([^\s():]+):(\d+)(?::\d+)?\)?\s*$`)

// parseFrames extracts up to maxFingerprintFrames normalized frames from
// a raw stack trace string, one frame per non-empty line, strongest
// signal first (top of stack).
func parseFrames(stackTrace string) []logmodel.StackFrame {
	lines := strings.Split(stackTrace, "\n")
	frames := make([]logmodel.StackFrame, 0, maxFingerprintFrames)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		frames = append(frames, normalizeFrame(line))
		if len(frames) == maxFingerprintFrames {
			break
		}
	}
	return frames
}

func normalizeFrame(line string) logmodel.StackFrame {
	m := frameLineRe.FindStringSubmatch(line)
	if m == nil {
		return logmodel.StackFrame{File: line}
	}
	function := strings.TrimSpace(m[1])
	file := stripAbsolutePrefix(m[2])
	return logmodel.StackFrame{File: file, Function: function}
}

// stripAbsolutePrefix removes a leading filesystem/module root so the
// same logical file contributes the same fingerprint input regardless
// of where it was checked out or deployed from.
func stripAbsolutePrefix(file string) string {
	file = path.Clean(file)
	if idx := strings.LastIndex(file, "/src/"); idx >= 0 {
		return file[idx+len("/src/"):]
	}
	if strings.HasPrefix(file, "/") {
		parts := strings.Split(file, "/")
		if len(parts) > 3 {
			return strings.Join(parts[len(parts)-3:], "/")
		}
	}
	return file
}

// Fingerprint computes the stable SHA-256 fingerprint used to cluster
// exceptions into error groups:
//
//	SHA256(error_type ∥ 0x00 ∥ first_three_normalized_frames ∥ 0x00 ∥ platform)
func Fingerprint(errorType, stackTrace, platform string) string {
	frames := parseFrames(stackTrace)
	frameParts := make([]string, len(frames))
	for i, f := range frames {
		frameParts[i] = f.File + "#" + f.Function
	}

	h := sha256.New()
	h.Write([]byte(errorType))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(frameParts, "|")))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	return hex.EncodeToString(h.Sum(nil))
}
