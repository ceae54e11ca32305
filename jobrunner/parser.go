package jobrunner

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/vplotter/motioncore/errs"
	"github.com/vplotter/motioncore/motionplan"
	"github.com/vplotter/motioncore/rig"
)

// parseHeader reads the two mandatory header lines off scanner: `d<total>`
// declaring the job's total straight-line distance in millimetres, and
// `h<height>` declaring the drawing height. Anything else fails fast with
// BadFile per §7 ("the command-file reader fails fast on missing header").
func parseHeader(scanner *bufio.Scanner) (totalDistanceMM, heightMM float64, err error) {
	if !scanner.Scan() {
		return 0, 0, errs.BadFile("command file is empty, missing distance header", scanner.Err())
	}
	totalDistanceMM, err = parseHeaderLine(scanner.Text(), 'd')
	if err != nil {
		return 0, 0, errs.BadFile("parsing distance header", err)
	}

	if !scanner.Scan() {
		return 0, 0, errs.BadFile("command file truncated, missing height header", scanner.Err())
	}
	heightMM, err = parseHeaderLine(scanner.Text(), 'h')
	if err != nil {
		return 0, 0, errs.BadFile("parsing height header", err)
	}

	return totalDistanceMM, heightMM, nil
}

func parseHeaderLine(line string, want byte) (float64, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != want {
		return 0, errs.InvalidArgumentf("expected header line starting with %q, got %q", string(want), line)
	}
	return strconv.ParseFloat(line[1:], 64)
}

// parseLine converts one command-file body line into a motionplan.RawLine.
// The second return is false for blank or malformed lines, which §6 says
// are skipped (but still counted toward the startLine offset by the
// caller, since it advances the scanner regardless of ok).
func parseLine(line string) (motionplan.RawLine, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return motionplan.RawLine{}, false
	}

	fields := strings.Fields(line)
	switch {
	case line == "p0":
		return motionplan.RawLine{Kind: motionplan.RawPen, PenDown: false}, true
	case line == "p1":
		return motionplan.RawLine{Kind: motionplan.RawPen, PenDown: true}, true
	case len(fields) == 2:
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return motionplan.RawLine{}, false
		}
		return motionplan.RawLine{Kind: motionplan.RawMove, Target: rig.Point{X: x, Y: y}}, true
	case len(fields) == 5 && (fields[0] == "G2" || fields[0] == "G3"):
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		i, errI := strconv.ParseFloat(fields[3], 64)
		j, errJ := strconv.ParseFloat(fields[4], 64)
		if errX != nil || errY != nil || errI != nil || errJ != nil {
			return motionplan.RawLine{}, false
		}
		return motionplan.RawLine{
			Kind:      motionplan.RawArc,
			Target:    rig.Point{X: x, Y: y},
			OffsetI:   i,
			OffsetJ:   j,
			Clockwise: fields[0] == "G2",
		}, true
	default:
		return motionplan.RawLine{}, false
	}
}
