package connpool

import (
	"fmt"
)

// Codec serializes values for metrics export and import
type Codec interface {
	// Encode serializes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string
}

// ExportSnapshot serializes one metrics snapshot with the given codec
func ExportSnapshot(codec Codec, s MetricsSnapshot) ([]byte, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	return codec.Encode(s)
}

// ImportSnapshot deserializes one metrics snapshot
func ImportSnapshot(codec Codec, data []byte) (MetricsSnapshot, error) {
	var s MetricsSnapshot
	if codec == nil {
		return s, fmt.Errorf("codec cannot be nil")
	}
	if err := codec.Decode(data, &s); err != nil {
		return MetricsSnapshot{}, err
	}
	return s, nil
}

// ExportHistory serializes a snapshot history, oldest first
func ExportHistory(codec Codec, snapshots []MetricsSnapshot) ([]byte, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if snapshots == nil {
		snapshots = []MetricsSnapshot{}
	}
	return codec.Encode(snapshots)
}

// ImportHistory deserializes a snapshot history
func ImportHistory(codec Codec, data []byte) ([]MetricsSnapshot, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	var snapshots []MetricsSnapshot
	if err := codec.Decode(data, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}
