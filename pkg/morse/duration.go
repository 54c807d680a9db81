package morse

import (
	"time"
	"unicode"
)

// Overhead covers device command handling before keying starts
const Overhead = 2 * time.Second

// defaultUnits is charged for characters missing from the table
const defaultUnits = 3

// units approximates the dot-equivalent length of each character,
// element plus element gap
var units = map[rune]int{
	'A': 6, 'B': 10, 'C': 10, 'D': 8, 'E': 2, 'F': 8, 'G': 10, 'H': 6,
	'I': 4, 'J': 12, 'K': 10, 'L': 8, 'M': 10, 'N': 6, 'O': 12, 'P': 10,
	'Q': 12, 'R': 6, 'S': 4, 'T': 4, 'U': 6, 'V': 8, 'W': 8, 'X': 10,
	'Y': 12, 'Z': 10, '0': 14, '1': 12, '2': 10, '3': 8, '4': 6, '5': 4,
	'6': 6, '7': 8, '8': 10, '9': 12, ' ': 7,
}

// Units returns the number of dit units needed to key message,
// including one inter-character gap between each adjacent pair
func Units(message string) int {
	total := 0
	count := 0
	for _, r := range message {
		u, ok := units[unicode.ToUpper(r)]
		if !ok {
			u = defaultUnits
		}
		total += u
		count++
	}
	if count > 1 {
		total += count - 1
	}
	return total
}

// DitDuration returns the length of one dit at the given speed.
// Speeds below 1 WPM are treated as 1 WPM.
func DitDuration(wpm int) time.Duration {
	if wpm < 1 {
		wpm = 1
	}
	return time.Duration(1200 * float64(time.Millisecond) / float64(wpm))
}

// Estimate returns how long the keyer needs to send message at wpm.
// The value paces retransmissions; the device gives no acknowledgement.
func Estimate(message string, wpm int) time.Duration {
	return time.Duration(Units(message))*DitDuration(wpm) + Overhead
}
