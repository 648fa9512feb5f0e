package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/csfeeds/feedhandler/internal/ferr"
)

// Load reads the configured top-level venue block from v and decodes it
// into a Venue via mapstructure (the decoder viper.UnmarshalKey uses
// internally). v is expected to already have its config file set and
// read (cmd/feedhandler owns that; this package only owns the shape).
func Load(v *viper.Viper, venueKey string) (*Venue, error) {
	var venue Venue
	if err := v.UnmarshalKey(venueKey, &venue); err != nil {
		return nil, ferr.Wrap(ferr.Fatal, fmt.Errorf("decode venue %q: %w", venueKey, err))
	}
	if err := venue.Validate(); err != nil {
		return nil, err
	}
	return &venue, nil
}
