package eeprom

import "fmt"

func errShortImage(got int) error {
	return fmt.Errorf("eeprom: image too short to contain the fixed category: got %d bytes, need at least 128", got)
}
