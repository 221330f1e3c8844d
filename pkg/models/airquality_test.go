package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSnapshotMarshalJSON(t *testing.T) {
	snap := NewSnapshot("2024-01-01T00:00", []Field{Ozone, PM10, NitricOxide}, map[Field]string{
		Ozone:       "12",
		NitricOxide: "5",
	})

	// json.Marshal would re-escape '<'; the encoder paths used for responses
	// disable that, so check the raw output.
	got, err := snap.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() = %v", err)
	}
	want := `{"Date":"2024-01-01T00:00","Ozone":"12","Particulates < 10um (hourly measured)":"","Nitric Oxide":"5"}`
	if string(got) != want {
		t.Errorf("MarshalJSON() = %s, want: %s", got, want)
	}

	escaped, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() = %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(escaped, &back); err != nil {
		t.Fatalf("Unmarshal() = %v", err)
	}
	if !reflect.DeepEqual(back, snap) {
		t.Errorf("Unmarshal() = %+v, want: %+v", back, snap)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	fields := []Field{Ozone}
	values := map[Field]string{Ozone: "1"}
	snap := NewSnapshot("d", fields, values)

	fields[0] = PM25
	values[Ozone] = "2"
	snap.Fields()[0] = WindSpeed
	snap.Map()[string(Ozone)] = "3"

	if snap.Get(Ozone) != "1" || !reflect.DeepEqual(snap.Fields(), []Field{Ozone}) {
		t.Errorf("snapshot changed through its inputs or accessors: %+v", snap)
	}
}

func TestSnapshotMap(t *testing.T) {
	snap := NewSnapshot("d", []Field{Ozone, WindSpeed}, map[Field]string{Ozone: "1"})
	want := map[string]string{"Date": "d", "Ozone": "1", "Modelled Wind Speed": ""}
	if got := snap.Map(); !reflect.DeepEqual(got, want) {
		t.Errorf("Map() = %v, want: %v", got, want)
	}
}

func TestRecordValue(t *testing.T) {
	r := Record{Date: "d", Values: map[string]string{"Ozone": "4"}}
	if r.Value(Ozone) != "4" || r.Value(PM25) != "" {
		t.Errorf("Value() = %q / %q", r.Value(Ozone), r.Value(PM25))
	}
}
