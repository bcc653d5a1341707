package visa

import "strings"

// IDN is a parsed IEEE 488.2 *IDN? reply.
type IDN struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// ParseIDN splits "manufacturer,model,serial,firmware". Missing fields are
// left empty.
func ParseIDN(reply string) IDN {
	var fields [4]string
	for i, f := range strings.SplitN(strings.TrimSpace(reply), ",", 4) {
		fields[i] = strings.TrimSpace(f)
	}
	return IDN{Manufacturer: fields[0], Model: fields[1], Serial: fields[2], Firmware: fields[3]}
}
