package media

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Subtitle chunks target this many characters of transcript, split at the
// next whitespace boundary so words are never cut apart.
const vttPieceLength = 68

const vttHeader = "WEBVTT FILE:\n\n"

// TranscriptToVTT synthesizes a WEBVTT document from a flat transcript by
// spreading fixed-size text chunks evenly across the media duration. Cue
// times are offset by 0.85s to roughly account for the leading silence of
// recorded answers. Returns "" when the duration is unusable.
func TranscriptToVTT(transcript string, durationSecs float64) string {
	if durationSecs <= 0 || len(transcript) == 0 {
		return ""
	}

	var wordIndexes []int
	for i, r := range transcript {
		if r == ' ' {
			wordIndexes = append(wordIndexes, i)
		}
	}

	splitIndex := []int{0}
	for k := 1; k < len(wordIndexes); k++ {
		for el := 1; el < len(wordIndexes); el++ {
			if wordIndexes[el] > vttPieceLength*k {
				splitIndex = append(splitIndex, wordIndexes[el])
				break
			}
		}
	}
	splitIndex = append(splitIndex, len(transcript))

	chunks := math.Ceil(float64(len(transcript)) / vttPieceLength)
	sb := strings.Builder{}
	sb.WriteString(vttHeader)
	for j := 0; j < len(splitIndex)-1; j++ {
		start := round2(durationSecs/chunks*float64(j)) + 0.85
		end := round2(durationSecs/chunks*float64(j+1)) + 0.85
		sb.WriteString(fmt.Sprintf("%s --> %s\n", vttTimestamp(start), vttTimestamp(end)))
		sb.WriteString(transcript[splitIndex[j]:splitIndex[j+1]])
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// WriteVTT synthesizes the VTT for transcript and writes it to vttPath.
// Returns the document, or "" when nothing could be generated.
func WriteVTT(transcript string, durationSecs float64, vttPath string) (string, error) {
	doc := TranscriptToVTT(transcript, durationSecs)
	if doc == "" {
		return "", nil
	}
	if err := os.WriteFile(vttPath, []byte(doc), 0644); err != nil {
		return "", fmt.Errorf("failed to write vtt file %s: %w", vttPath, err)
	}
	return doc, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Hours are folded into the minutes field, answers are short.
func vttTimestamp(secs float64) string {
	return fmt.Sprintf("00:%02d:%06.3f", int(secs/60), math.Mod(secs, 60))
}

// Cue is a single timed block of a VTT document.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// ParseVTT extracts the timed cues from a WEBVTT document. Unrecognized
// lines before the first cue (headers, notes) are skipped.
func ParseVTT(doc string) []Cue {
	var cues []Cue
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		parts := strings.Split(lines[i], " --> ")
		if len(parts) != 2 {
			continue
		}
		start, err1 := parseVTTTimestamp(strings.TrimSpace(parts[0]))
		end, err2 := parseVTTTimestamp(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			continue
		}
		var text []string
		for i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
			text = append(text, strings.TrimSpace(lines[i+1]))
			i++
		}
		cues = append(cues, Cue{Start: start, End: end, Text: strings.Join(text, " ")})
	}
	return cues
}

func parseVTTTimestamp(stamp string) (float64, error) {
	fields := strings.Split(stamp, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("malformed vtt timestamp %q", stamp)
	}
	var total float64
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed vtt timestamp %q: %w", stamp, err)
		}
		total = total*60 + v
	}
	return total, nil
}

// TrimVTT restricts a VTT document to the [startSecs, endSecs) window: cues
// outside it are dropped, overlapping cues are clamped, and the remaining
// times are shifted so the window starts at zero. The second return value is
// the transcript rebuilt from the retained cue texts.
func TrimVTT(doc string, startSecs, endSecs float64) (string, string) {
	var kept []Cue
	var texts []string
	for _, cue := range ParseVTT(doc) {
		if cue.End <= startSecs || cue.Start >= endSecs {
			continue
		}
		start := math.Max(cue.Start, startSecs) - startSecs
		end := math.Min(cue.End, endSecs) - startSecs
		kept = append(kept, Cue{Start: start, End: end, Text: cue.Text})
		texts = append(texts, cue.Text)
	}
	if len(kept) == 0 {
		return "", ""
	}

	sb := strings.Builder{}
	sb.WriteString(vttHeader)
	for _, cue := range kept {
		sb.WriteString(fmt.Sprintf("%s --> %s\n", vttTimestamp(cue.Start), vttTimestamp(cue.End)))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}
	return sb.String(), strings.Join(texts, " ")
}
