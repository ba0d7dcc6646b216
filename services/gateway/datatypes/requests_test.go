// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_CreateCollection(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateCollectionRequest
		wantErr string
	}{
		{"valid", CreateCollectionRequest{Name: "support-kb"}, ""},
		{"missing name", CreateCollectionRequest{}, "name is required"},
		{"name too long", CreateCollectionRequest{Name: strings.Repeat("x", 129)}, "name must be at most 128 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, ValidationMessage(err))
		})
	}
}

func TestValidate_WERRequest(t *testing.T) {
	assert.NoError(t, Validate(&WERRequest{Reference: "the cat", Hypothesis: ""}))

	err := Validate(&WERRequest{Hypothesis: "the cat"})
	require.Error(t, err)
	assert.Equal(t, "reference is required", ValidationMessage(err))

	err = Validate(&WERRequest{Reference: strings.Repeat("a", MaxTextBytes+1)})
	require.Error(t, err)
	assert.Contains(t, ValidationMessage(err), "reference exceeds")
}

func TestValidate_ConfigVersionBlob(t *testing.T) {
	assert.NoError(t, Validate(&CreateConfigVersionRequest{ConfigBlob: json.RawMessage(`{"temperature":0.2}`)}))

	for _, blob := range []string{`[1,2]`, `"text"`, `{"broken":`} {
		err := Validate(&CreateConfigVersionRequest{ConfigBlob: json.RawMessage(blob)})
		require.Error(t, err, blob)
		assert.Equal(t, "config_blob must be a JSON object", ValidationMessage(err))
	}

	err := Validate(&CreateConfigVersionRequest{})
	require.Error(t, err)
	assert.Equal(t, "config_blob is required", ValidationMessage(err))
}

func TestValidate_DiffContextRange(t *testing.T) {
	ok, tooMany := 3, MaxDiffContext+1
	assert.NoError(t, Validate(&DiffRequest{Old: "a", New: "b", Context: &ok}))
	err := Validate(&DiffRequest{Context: &tooMany})
	require.Error(t, err)
	assert.Equal(t, "context is out of range", ValidationMessage(err))
}

func TestValidate_UpdateConfigOptionalFields(t *testing.T) {
	assert.NoError(t, Validate(&UpdateConfigRequest{}))
	empty := ""
	err := Validate(&UpdateConfigRequest{Name: &empty})
	require.Error(t, err)
}

func TestValidationMessage_NonValidatorError(t *testing.T) {
	assert.Equal(t, "boom", ValidationMessage(errors.New("boom")))
}

func TestCollectionJob_JobIdentifier(t *testing.T) {
	assert.Equal(t, "j1", CollectionJob{JobID: "j1", ID: "x"}.JobIdentifier())
	assert.Equal(t, "x", CollectionJob{ID: "x"}.JobIdentifier())
}

func TestNewDiffResponse_LineLimit(t *testing.T) {
	atLimit := strings.Repeat("line\n", MaxDiffLines)
	resp, err := NewDiffResponse("old", "new", atLimit, atLimit+"extra", 0)
	require.ErrorIs(t, err, ErrDiffTooLarge)
	assert.Contains(t, err.Error(), "new has 5001 lines")
	assert.Empty(t, resp.Rows)

	resp, err = NewDiffResponse("old", "new", atLimit, atLimit, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxDiffLines, resp.Stats.Unchanged)
	assert.Empty(t, resp.Hunks)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount(""))
	assert.Equal(t, 1, lineCount("a"))
	assert.Equal(t, 1, lineCount("a\n"))
	assert.Equal(t, 2, lineCount("a\nb"))
	assert.Equal(t, 2, lineCount("a\r\nb\r\n"))
}
