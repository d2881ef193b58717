package util

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	require.Equal(t, "abcd\n\txy", SanitizeText("ab\x00cd\x01\x02\n\txy"))
	require.Equal(t, "Math\nRoom 4", SanitizeText(" Math\rRoom 4 "))
	require.Equal(t, "", SanitizeText(""))
}

func TestTailKeepsEnd(t *testing.T) {
	require.Equal(t, "short", Tail("short", 100))
	s := strings.Repeat("noise line\n", 50) + "fatal: decode page 3"
	out := Tail(s, 40)
	require.True(t, strings.HasPrefix(out, "..."))
	require.True(t, strings.HasSuffix(out, "fatal: decode page 3"))
	require.LessOrEqual(t, len(out), 43)
}

func TestSafeJoin(t *testing.T) {
	p, err := SafeJoin("/data/in", "ab/abcd.png")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/data/in", "ab", "abcd.png"), p)

	for _, bad := range []string{"../etc/passwd", "/etc/passwd", "a/../../b"} {
		_, err := SafeJoin("/data/in", bad)
		require.Error(t, err, bad)
	}
}

func TestContentPath(t *testing.T) {
	require.Equal(t, "9f/9f86d0.png", ContentPath("9f86d0", ".png"))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7", "extraction.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"records": 3}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, 3, got["records"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not linger")
}

func TestWriteJSONLinesAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warnings.jsonl")
	require.NoError(t, WriteJSONLinesAtomic(path, []string{"a", "b"}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "\"a\"\n\"b\"\n", string(b))
}

func TestDigest(t *testing.T) {
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	got, n, err := Digest(strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.EqualValues(t, 5, n)
}

func TestContentName(t *testing.T) {
	name, n, err := ContentName(strings.NewReader("hello"), ".png")
	require.NoError(t, err)
	require.Equal(t, "2c/2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824.png", name)
	require.EqualValues(t, 5, n)

	_, _, err = ContentName(iotest.ErrReader(errors.New("disk gone")), ".png")
	require.ErrorContains(t, err, "disk gone")
}
