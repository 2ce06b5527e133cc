package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pseudonym/internal/platform/secrets"
	"pseudonym/internal/pseudonym/models"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeList(t *testing.T, dir, name string, words ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(words, "\n")+"\n"), 0o600))
	return path
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "", "keygen")
	require.NoError(t, err)

	key, err := hex.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, secrets.KeySize)
}

type fakeResolver struct {
	calls atomic.Int32
	fail  string
}

func (f *fakeResolver) Resolve(_ context.Context, identifier []byte) (models.Pseudonym, error) {
	f.calls.Add(1)
	if string(identifier) == f.fail {
		return models.Pseudonym{}, errors.New("store down")
	}
	return models.Pseudonym{First: "being", Middle: string(identifier), Last: "owl"}, nil
}

func TestResolveAll(t *testing.T) {
	t.Run("keeps input order", func(t *testing.T) {
		var out bytes.Buffer
		inputs := fromArgs([]string{"a", "b", "c", "d", "e"})
		require.NoError(t, resolveAll(context.Background(), &fakeResolver{}, inputs, &out, 3))
		assert.Equal(t, "being-a-owl\nbeing-b-owl\nbeing-c-owl\nbeing-d-owl\nbeing-e-owl\n", out.String())
	})

	t.Run("failure names the argument and writes nothing", func(t *testing.T) {
		var out bytes.Buffer
		err := resolveAll(context.Background(), &fakeResolver{fail: "b"}, fromArgs([]string{"a", "b"}), &out, 1)
		require.ErrorContains(t, err, "argument 2")
		assert.Empty(t, out.String())
	})

	t.Run("failure names the input line", func(t *testing.T) {
		inputs, err := readLines(strings.NewReader("a\n\n\nb\n"))
		require.NoError(t, err)

		var out bytes.Buffer
		err = resolveAll(context.Background(), &fakeResolver{fail: "b"}, inputs, &out, 1)
		require.ErrorContains(t, err, "line 4")
		assert.NotContains(t, err.Error(), "line 2")
	})
}

func TestReadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []input
	}{
		{
			name:  "blank lines keep numbering",
			input: "one\n\ntwo\nthree",
			want:  []input{{"line 1", "one"}, {"line 3", "two"}, {"line 4", "three"}},
		},
		{
			name:  "crlf line endings",
			input: "one\r\n\r\ntwo\r\n",
			want:  []input{{"line 1", "one"}, {"line 3", "two"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLines(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWordsShuffle(t *testing.T) {
	path := writeList(t, t.TempDir(), "colors.txt", "red", "green", "blue", "teal", "amber")

	first, err := execute(t, "", "words", "shuffle", path, "--seed", "7")
	require.NoError(t, err)
	again, err := execute(t, "", "words", "shuffle", path, "--seed", "7")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.ElementsMatch(t, []string{"red", "green", "blue", "teal", "amber"}, strings.Fields(first))

	bad := writeList(t, t.TempDir(), "bad.txt", "red", "Red")
	_, err = execute(t, "", "words", "shuffle", bad)
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	key, err := secrets.Generate()
	require.NoError(t, err)

	var first, middle, last []string
	for i := range 30 {
		suffix := string(rune('a'+i/26)) + string(rune('a'+i%26))
		first = append(first, "dancing"+suffix)
		middle = append(middle, "violet"+suffix)
		last = append(last, "badger"+suffix)
	}
	t.Setenv("PSEUDONYM_CONFIG", "")
	t.Setenv("PSEUDONYM_SECRET_KEY", key)
	t.Setenv("PSEUDONYM_POPULATION_SIZE", "50")
	t.Setenv("PSEUDONYM_BACKEND", "sqlite")
	t.Setenv("PSEUDONYM_SQLITE_PATH", filepath.Join(dir, "records.db"))
	t.Setenv("PSEUDONYM_WORDS_FIRST", writeList(t, dir, "first.txt", first...))
	t.Setenv("PSEUDONYM_WORDS_MIDDLE", writeList(t, dir, "middle.txt", middle...))
	t.Setenv("PSEUDONYM_WORDS_LAST", writeList(t, dir, "last.txt", last...))

	fromStdin, err := execute(t, "ann@example.org\nbob@example.org\n", "resolve")
	require.NoError(t, err)
	names := strings.Fields(fromStdin)
	require.Len(t, names, 2)
	for _, name := range names {
		parts := strings.Split(name, "-")
		require.Len(t, parts, 3, name)
		assert.True(t, strings.HasPrefix(parts[0], "dancing"))
	}

	fromArg, err := execute(t, "", "resolve", "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, names[1], strings.TrimSpace(fromArg))

	fromCRLF, err := execute(t, "ann@example.org\r\nbob@example.org\r\n", "resolve")
	require.NoError(t, err)
	assert.Equal(t, fromStdin, fromCRLF)

	check, err := execute(t, "", "words", "check")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("first=%d middle=%d last=%d population=50\n", 30, 30, 30), check)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("PSEUDONYM_CONFIG", "")
	t.Setenv("JWT_SIGNING_KEY", "")
	_, err := execute(t, "", "token", "svc")
	require.ErrorContains(t, err, "JWT_SIGNING_KEY")

	t.Setenv("JWT_SIGNING_KEY", "cli-test-key")
	out, err := execute(t, "", "token", "svc", "--client-id", "reports")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}
