// Package universe defines the set of instruments the collectors track.
package universe

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config lists the ticker universe for open interest collection. Candle
// collection derives its universe from the instruments table instead.
type Config struct {
	// OITickers are the futures codes the futoi endpoint publishes
	// 5-minute open interest for.
	OITickers []string `yaml:"oi_tickers"`
}

// LoadConfig reads a universe definition from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader parses a universe definition from YAML.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse universe config: %w", err)
	}
	cfg.normalize()
	if len(cfg.OITickers) == 0 {
		return nil, fmt.Errorf("universe config: oi_tickers is empty")
	}
	return &cfg, nil
}

// Default returns the built-in universe: the futures codes the exchange
// currently publishes futoi data for.
func Default() *Config {
	cfg := &Config{OITickers: append([]string(nil), defaultOITickers...)}
	return cfg
}

func (c *Config) normalize() {
	seen := make(map[string]struct{}, len(c.OITickers))
	out := c.OITickers[:0]
	for _, t := range c.OITickers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	c.OITickers = out
}

var defaultOITickers = []string{
	"CR", "CNYRUBF", "Si", "Eu", "IB", "VB", "USDRUBF", "GZ", "IMOEXF", "RB",
	"CC", "GL", "GLDRUBF", "NA", "NR", "ED", "GK", "SV", "SS", "X5",
	"MX", "MM", "NG", "GD", "SR", "SF", "GAZPF", "MN", "YD", "BR",
	"SE", "TN", "PT", "AF", "KC", "FF", "AL", "EURRUBF", "SBERF", "CE",
	"HS", "NK", "RI", "RL", "LK", "UC", "PD", "NM", "MC", "RM",
	"RN", "SP", "SN", "ME", "HY", "BM", "TT", "OJ", "MG", "W4",
	"DX", "CH", "MY", "VI", "AU",
}
