package serviceability

import (
	"context"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/parse"
)

// Static is a fixed coverage table: carrier id to the pincodes it delivers to.
// A pincode ending in * covers every pincode with that prefix, a lone * covers all.
type Static struct {
	coverage map[string][]string
	fallback string
}

type staticFile struct {
	Default  string              `yaml:"default"`
	Coverage map[string][]string `yaml:"coverage"`
}

func NewStatic(coverage map[string][]string, fallback string) *Static {
	s := &Static{
		coverage: make(map[string][]string, len(coverage)),
		fallback: fallback,
	}
	for carrier, pincodes := range coverage {
		s.coverage[parse.Normalize(carrier)] = pincodes
	}
	return s
}

// LoadStatic reads a table of the form
//
//	default: DELHIVERY
//	coverage:
//	  VRL001: ["1100*", "122001"]
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("serviceability table %s: %w", path, err)
	}
	return NewStatic(f.Coverage, f.Default), nil
}

func (s *Static) IsServiceable(ctx context.Context, carrierID string, pincode string) (bool, error) {
	pincodes, ok := s.coverage[parse.Normalize(carrierID)]
	if !ok {
		return false, nil
	}
	pincode = strings.TrimSpace(pincode)
	for _, p := range pincodes {
		if prefix, wildcard := strings.CutSuffix(p, "*"); wildcard {
			if strings.HasPrefix(pincode, prefix) {
				return true, nil
			}
			continue
		}
		if p == pincode {
			return true, nil
		}
	}
	return false, nil
}

// DefaultCarrier returns the table default when it covers the shipment's pincode.
func (s *Static) DefaultCarrier(ctx context.Context, sc *allocation.ShipmentContext) (string, error) {
	if s.fallback == "" {
		return "", allocation.ErrNoServiceableCarrier
	}
	ok, err := s.IsServiceable(ctx, s.fallback, sc.Get(allocation.FIELD_PINCODE).String())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", allocation.ErrNoServiceableCarrier
	}
	return s.fallback, nil
}
