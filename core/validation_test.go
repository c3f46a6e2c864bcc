package core

import (
	"errors"
	"testing"
)

func TestValidatePassage(t *testing.T) {
	valid := NewPassage("Hello world", "a.txt", nil)
	valid.Vector = []float32{1, 0}

	tests := []struct {
		name    string
		passage *Passage
		wantErr error
	}{
		{
			name:    "valid passage",
			passage: valid,
			wantErr: nil,
		},
		{
			name: "valid passage without source",
			passage: &Passage{
				Id:      IDFromContent("no source"),
				Content: "no source",
				Vector:  []float32{0.5},
			},
			wantErr: nil,
		},
		{
			name:    "nil passage",
			passage: nil,
			wantErr: ErrInvalidPassage,
		},
		{
			name: "empty content",
			passage: &Passage{
				Id:     IDFromContent(""),
				Vector: []float32{1},
			},
			wantErr: ErrEmptyContent,
		},
		{
			name: "id mismatch",
			passage: &Passage{
				Id:      42,
				Content: "Hello world",
				Vector:  []float32{1},
			},
			wantErr: ErrIDMismatch,
		},
		{
			name: "missing vector",
			passage: &Passage{
				Id:      IDFromContent("Hello world"),
				Content: "Hello world",
			},
			wantErr: ErrMissingVector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassage(tt.passage)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePassage() error = %v, want nil", err)
				}
				return
			}

			if err == nil {
				t.Errorf("ValidatePassage() error = nil, want %v", tt.wantErr)
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePassage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
