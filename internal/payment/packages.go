package payment

import (
	"fmt"
	"strconv"
	"strings"
)

// Package is a purchasable points bundle priced in Telegram Stars.
type Package struct {
	Points int
	Stars  int
}

// Packages is the catalog shown by /buy.
var Packages = []Package{
	{Points: 10, Stars: 100},
	{Points: 50, Stars: 400},
}

// PackageByStars resolves a catalog entry from its Stars price.
func PackageByStars(stars int) (Package, bool) {
	for _, p := range Packages {
		if p.Stars == stars {
			return p, true
		}
	}
	return Package{}, false
}

// BuildPayload encodes the invoice payload carried through the Stars flow.
func BuildPayload(points int, telegramID int64) string {
	return fmt.Sprintf("points_%d_%d", points, telegramID)
}

// ParsePayload decodes a payload of the form "points_<amount>_<userid>".
// Anything else is rejected: a malformed payload must never credit points.
func ParsePayload(payload string) (points int, telegramID int64, err error) {
	parts := strings.Split(payload, "_")
	if len(parts) != 3 || parts[0] != "points" {
		return 0, 0, fmt.Errorf("malformed payload %q", payload)
	}
	points, err = strconv.Atoi(parts[1])
	if err != nil || points <= 0 {
		return 0, 0, fmt.Errorf("malformed points amount in payload %q", payload)
	}
	telegramID, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed user id in payload %q", payload)
	}
	return points, telegramID, nil
}
