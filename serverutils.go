package gobbledegook

import (
	"bufio"
	"encoding/binary"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// CurrentTimeValue encodes the local time per the Current Time (0x2A2B)
// characteristic standard: year (LE), month, day, hour, minute, second,
// ISO weekday, fractions, and adjust-reason.
func CurrentTimeValue(t time.Time) []byte {
	out := make([]byte, 10)
	binary.LittleEndian.PutUint16(out[0:], uint16(t.Year()))
	out[2] = byte(t.Month())
	out[3] = byte(t.Day())
	out[4] = byte(t.Hour())
	out[5] = byte(t.Minute())
	out[6] = byte(t.Second())
	wday := byte(t.Weekday())
	if wday == 0 {
		wday = 7
	}
	out[7] = wday
	out[8] = 0 // fractions (1/256th of a second)
	out[9] = 0 // adjust reason
	return out
}

// LocalTimeValue encodes the local time zone per the Local Time Information
// (0x2A0F) characteristic standard: UTC offset in 15-minute units and DST
// offset.
func LocalTimeValue(t time.Time) []byte {
	_, offsetSeconds := t.Zone()
	utcOffset := int8(offsetSeconds / 60 / 15)

	var dstOffset byte
	if t.IsDST() {
		dstOffset = 4 // +1 hour
	}

	return []byte{byte(utcOffset), dstOffset}
}

var (
	cpuInfoOnce  sync.Once
	cpuInfoCount int16
	cpuInfoModel string
)

// CPUInfo parses /proc/cpuinfo for the processor count and model name.
// Results are cached on the first call; if parsing fails, reasonable (if not
// entirely accurate) defaults are returned.
func CPUInfo() (int16, string) {
	cpuInfoOnce.Do(func() {
		processorRe := regexp.MustCompile(`^processor.*: [0-9]`)
		modelRe := regexp.MustCompile(`^model name.*: (.*)$`)

		if f, err := os.Open("/proc/cpuinfo"); err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if processorRe.MatchString(line) {
					cpuInfoCount++
				}
				if cpuInfoModel == "" {
					if m := modelRe.FindStringSubmatch(line); len(m) == 2 {
						cpuInfoModel = strings.TrimSpace(m[1])
					}
				}
			}
			f.Close()
		}

		if cpuInfoModel == "" {
			cpuInfoModel = "Gooberfest Cyclemaster 3000 (v8)"
		}
		if cpuInfoCount == 0 {
			cpuInfoCount = 42
		}
	})
	return cpuInfoCount, cpuInfoModel
}
