// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

const (
	textPrefix = "SensorData("
	textSuffix = ")"
)

// fieldNames is the wire order of the six sample fields.
var fieldNames = [6]string{"gravityX", "gravityY", "gravityZ", "gyroX", "gyroY", "gyroZ"}

func fields(s *sample.Sample) [6]*float64 {
	return [6]*float64{&s.GravityX, &s.GravityY, &s.GravityZ, &s.GyroX, &s.GyroY, &s.GyroZ}
}

// EncodeText renders s in the SensorData(...) text format.
func EncodeText(s sample.Sample) string {
	var b strings.Builder
	b.WriteString(textPrefix)
	for i, v := range fields(&s) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fieldNames[i])
		b.WriteByte('=')
		b.WriteString(formatFloat(*v))
	}
	b.WriteString(textSuffix)
	return b.String()
}

// DecodeText parses the SensorData(...) text format. All six fields must be
// present; their order is not enforced.
func DecodeText(text string) (sample.Sample, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, textPrefix) || !strings.HasSuffix(text, textSuffix) {
		return sample.Sample{}, fmt.Errorf("not a SensorData record: %q", text)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(text, textPrefix), textSuffix)

	var s sample.Sample
	dst := fields(&s)
	var seen [6]bool

	for _, part := range strings.Split(body, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return sample.Sample{}, fmt.Errorf("malformed field %q", part)
		}

		idx := -1
		for i, name := range fieldNames {
			if name == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return sample.Sample{}, fmt.Errorf("unknown field %q", key)
		}
		if seen[idx] {
			return sample.Sample{}, fmt.Errorf("duplicate field %q", key)
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return sample.Sample{}, fmt.Errorf("field %s: %w", key, err)
		}
		*dst[idx] = f
		seen[idx] = true
	}

	for i, ok := range seen {
		if !ok {
			return sample.Sample{}, fmt.Errorf("missing field %q", fieldNames[i])
		}
	}
	return s, nil
}

// formatFloat writes f the way the phone app's runtime prints doubles:
// plain decimals with at least one fractional digit for magnitudes in
// [1e-3, 1e7), and scientific notation such as 1.0E-300 outside it.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	if abs := math.Abs(f); f == 0 || (abs >= 1e-3 && abs < 1e7) {
		return withFraction(strconv.FormatFloat(f, 'f', -1, 64))
	}

	// FormatFloat gives a signed, zero-padded exponent: 1.5E+07.
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'E', -1, 64), "E")
	n, _ := strconv.Atoi(exp)
	return withFraction(mant) + "E" + strconv.Itoa(n)
}

func withFraction(s string) string {
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}
