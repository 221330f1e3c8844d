package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateColumn is the dataset column holding each row's timestamp
const DateColumn = "Date"

// Field names one measurement column of the dataset
type Field string

// Fields published by the regulator's hourly export
const (
	Ozone               Field = "Ozone"
	NitricOxide         Field = "Nitric Oxide"
	NitrogenDioxide     Field = "Nitrogen dioxide"
	NitrogenOxides      Field = "Nitrogen oxides as nitrogen dioxide"
	SulphurDioxide      Field = "Sulphur dioxide"
	CarbonMonoxide      Field = "Carbon Monoxide"
	PM10                Field = "Particulates < 10um (hourly measured)"
	PM25                Field = "Particulates < 2.5um (hourly measured)"
	WindDirection       Field = "Modelled Wind Direction"
	WindSpeed           Field = "Modelled Wind Speed"
	ModelledTemperature Field = "Modelled Temperature"
)

// DefaultFields is the field set reduced into a snapshot, in output order
var DefaultFields = []Field{
	Ozone,
	NitricOxide,
	NitrogenDioxide,
	NitrogenOxides,
	SulphurDioxide,
	CarbonMonoxide,
	PM10,
	PM25,
	WindDirection,
	WindSpeed,
	ModelledTemperature,
}

// Record is one parsed dataset row. Values holds every non-date column keyed
// by its header name; an empty string means nothing was recorded.
type Record struct {
	Date   string
	Values map[string]string
}

// Value returns the reading for a field, or "" if the row has none
func (r Record) Value(f Field) string {
	return r.Values[string(f)]
}

// Snapshot is the consolidated latest-known reading per field.
// A Snapshot is never modified after construction; use NewSnapshot.
type Snapshot struct {
	date   string
	fields []Field
	values map[Field]string
}

// NewSnapshot builds a snapshot from a date and per-field values. Fields
// missing from values are reported as empty. The inputs are copied.
func NewSnapshot(date string, fields []Field, values map[Field]string) Snapshot {
	s := Snapshot{
		date:   date,
		fields: append([]Field(nil), fields...),
		values: make(map[Field]string, len(fields)),
	}
	for _, f := range fields {
		s.values[f] = values[f]
	}
	return s
}

// Date returns the snapshot timestamp
func (s Snapshot) Date() string {
	return s.date
}

// Fields returns the snapshot's fields in output order
func (s Snapshot) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Get returns the value for a field, "" when empty or unknown
func (s Snapshot) Get(f Field) string {
	return s.values[f]
}

// Map returns the snapshot as a flat name->value map including Date
func (s Snapshot) Map() map[string]string {
	m := make(map[string]string, len(s.fields)+1)
	m[DateColumn] = s.date
	for _, f := range s.fields {
		m[string(f)] = s.values[f]
	}
	return m
}

// MarshalJSON writes Date first, then each field in order
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, DateColumn, s.date); err != nil {
		return nil, err
	}
	for _, f := range s.fields {
		buf.WriteByte(',')
		if err := writeMember(&buf, string(f), s.values[f]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a snapshot while keeping the document's key order
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var (
		date   string
		fields []Field
		values = make(map[Field]string)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if key == DateColumn {
			date = value
			continue
		}
		fields = append(fields, Field(key))
		values[Field(key)] = value
	}
	*s = NewSnapshot(date, fields, values)
	return nil
}

// writeMember encodes key:value without HTML escaping so names such as
// "Particulates < 10um" stay readable.
func writeMember(buf *bytes.Buffer, key, value string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	buf.WriteByte(':')
	if err := enc.Encode(value); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Cycle is the outcome of one pipeline run as kept in the cycle log
type Cycle struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`     // "succeeded" or "failed"
	ErrorKind   string    `json:"error_kind"` // "" on success
	Error       string    `json:"error,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	Records     int       `json:"records"`
}
