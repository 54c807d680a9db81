// Package qsolog holds the contest log: logged contacts, the running
// serial number, and the contest and station settings read by the
// macro engine and the exporters.
package qsolog

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ModeCW is the only mode this log records
const ModeCW = "CW"

// NoFrequency is stored when no frequency was displayed at logging time
const NoFrequency = "N/A"

var (
	// ErrValidation is matched by every *ValidationError
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for a display position outside the log
	ErrNotFound = errors.New("qso not found")
)

// ValidationError names a required field that was empty
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Is makes errors.Is(err, ErrValidation) true
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Entry is one logged contact. Serial is fixed at creation and is not
// the display position.
type Entry struct {
	ID               string    `json:"id"`
	Serial           int       `json:"serial"`
	Timestamp        time.Time `json:"timestamp"`
	Callsign         string    `json:"callsign"`
	RSTSent          string    `json:"rst_sent"`
	RSTReceived      string    `json:"rst_received"`
	ExchangeSent     string    `json:"exchange_sent"`
	ExchangeReceived string    `json:"exchange_received"`
	Frequency        string    `json:"frequency"`
	Mode             string    `json:"mode"`
}

// Fields are the operator inputs for a new entry
type Fields struct {
	Callsign         string `json:"callsign"`
	RSTSent          string `json:"rst_sent"`
	RSTReceived      string `json:"rst_received"`
	ExchangeReceived string `json:"exchange_received"`
	// FrequencyDisplay is the frequency text shown at logging time,
	// e.g. "14.025000 MHz"
	FrequencyDisplay string `json:"frequency"`
}

// Edit changes the non-nil fields of an entry
type Edit struct {
	Timestamp        *time.Time
	Callsign         *string
	RSTSent          *string
	RSTReceived      *string
	ExchangeSent     *string
	ExchangeReceived *string
	Frequency        *string
}

// ContestConfig describes the contest being worked
type ContestConfig struct {
	Name              string `yaml:"name" json:"name"`
	Operator          string `yaml:"operator" json:"operator"`
	Band              string `yaml:"band" json:"band"`
	Power             string `yaml:"power" json:"power"`
	Transmitter       string `yaml:"transmitter" json:"transmitter"`
	Exchange          string `yaml:"exchange" json:"exchange"`
	UseSerialExchange bool   `yaml:"use_serial_exchange" json:"use_serial_exchange"`
}

// DefaultContest returns a single-op all-band high-power setup
func DefaultContest() ContestConfig {
	return ContestConfig{
		Operator:    "Single Op",
		Band:        "All Bands",
		Power:       "High",
		Transmitter: "One",
	}
}

// ExchangeSent returns what is sent as the exchange for serial
func (c ContestConfig) ExchangeSent(serial int) string {
	if c.UseSerialExchange {
		return strconv.Itoa(serial)
	}
	return c.Exchange
}

// StationProfile describes the operator's own station
type StationProfile struct {
	Callsign string `yaml:"callsign" json:"callsign"`
	Name     string `yaml:"name" json:"name"`
	Address  string `yaml:"address" json:"address"`
	City     string `yaml:"city" json:"city"`
	Country  string `yaml:"country" json:"country"`
	Zipcode  string `yaml:"zipcode" json:"zipcode"`
	Location string `yaml:"location" json:"location"`
	CQZone   string `yaml:"cq_zone" json:"cq_zone"`
	ITUZone  string `yaml:"itu_zone" json:"itu_zone"`
	Rig      string `yaml:"rig" json:"rig"`
	Antenna  string `yaml:"antenna" json:"antenna"`
	Power    string `yaml:"power" json:"power"`
}

// DefaultStation returns the stock station profile
func DefaultStation() StationProfile {
	return StationProfile{Callsign: "ZS6WAR"}
}

// Snapshot is the persisted form of a log
type Snapshot struct {
	Entries    []Entry `json:"entries"`
	NextSerial int     `json:"next_serial"`
}
