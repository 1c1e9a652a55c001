/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timefmt converts between seconds and the clock strings used on the wire.
package timefmt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MMSS formats seconds as m:ss, the form used in position replies.
func MMSS(sec float64) string {
	if sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		sec = 0
	}
	total := int64(sec)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// HMS formats seconds as h:mm:ss.fff, the DIDL res duration form.
func HMS(sec float64) string {
	if sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	return fmt.Sprintf("%d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// Seconds parses "h:mm:ss(.fff)", "m:ss" or plain seconds. Unparsable
// components count as zero; NOT_IMPLEMENTED and empty input yield 0.
func Seconds(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	parts := strings.Split(v, ":")
	total := 0.0
	mult := 1.0
	for i := len(parts) - 1; i >= 0; i-- {
		n, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err == nil {
			total += n * mult
		}
		mult *= 60
	}
	return total
}
