package export

import (
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// parseColor accepts #rgb, #rrggbb and the CSS color names. Anything
// else renders white so it stays visible on the dark background.
func parseColor(s string) (int, int, int) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return int(c.R), int(c.G), int(c.B)
	}
	if !strings.HasPrefix(s, "#") {
		return 255, 255, 255
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v>>16&0xff), int(v>>8&0xff), int(v&0xff)
}
