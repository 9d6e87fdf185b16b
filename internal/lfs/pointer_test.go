// Copyright 2025 The gpm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerys/gpm/internal/errors"
)

const testOid = "98ea6e4f216f2fb4b69fff9b3a44842c38686ca685f3f55dc48c5d3fb1107be4"

func TestParsePointer(t *testing.T) {
	valid := strings.Join([]string{
		VersionLine,
		"oid sha256:" + testOid,
		"size 12345",
	}, "\n") + "\n"

	ptr, isPointer, err := ParsePointer([]byte(valid))
	require.NoError(t, err)
	require.True(t, isPointer)
	assert.Equal(t, testOid, ptr.Oid)
	assert.Equal(t, int64(12345), ptr.Size)
}

func TestParsePointerUnknownKeysIgnored(t *testing.T) {
	blob := strings.Join([]string{
		VersionLine,
		"oid sha256:" + testOid,
		"size 7",
		"x-custom something",
	}, "\n")

	ptr, isPointer, err := ParsePointer([]byte(blob))
	require.NoError(t, err)
	require.True(t, isPointer)
	assert.Equal(t, int64(7), ptr.Size)
}

func TestParsePointerNotAPointer(t *testing.T) {
	testCases := map[string][]byte{
		"binary archive":     {0x1f, 0x8b, 0x08, 0x00},
		"empty blob":         {},
		"unrelated text":     []byte("hello world\n"),
		"wrong version line": []byte("version https://example.com/spec/v2\noid sha256:abc\n"),
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			_, isPointer, err := ParsePointer(tc)
			assert.NoError(t, err)
			assert.False(t, isPointer)
		})
	}
}

func TestParsePointerInvalid(t *testing.T) {
	testCases := map[string]string{
		"missing oid":   VersionLine + "\nsize 4\n",
		"missing size":  VersionLine + "\noid sha256:" + testOid + "\n",
		"short oid":     VersionLine + "\noid sha256:abcd\nsize 4\n",
		"bad oid algo":  VersionLine + "\noid md5:" + testOid + "\nsize 4\n",
		"bad size":      VersionLine + "\noid sha256:" + testOid + "\nsize twelve\n",
		"negative size": VersionLine + "\noid sha256:" + testOid + "\nsize -2\n",
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			_, isPointer, err := ParsePointer([]byte(tc))
			assert.True(t, isPointer)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.LFSPointerInvalid))
		})
	}
}
