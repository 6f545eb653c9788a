package config

import (
	"privwallet/internal/utt"
)

// LoadParams reads the public parameters and attaches the configured range
// proof backend.
func (c *Config) LoadParams() (*utt.GlobalParams, error) {
	p, err := utt.LoadParamsFile(c.ParamsPath)
	if err != nil {
		return nil, err
	}
	if c.Range.Backend == "groth16" {
		g, err := utt.NewGroth16Range(p.RangeBits, c.Range.KeyDir)
		if err != nil {
			return nil, err
		}
		p.Range = g
	}
	return p, nil
}
