package main

import (
	"bufio"
	"bytes"
	"context"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/htmlindex"

	"sensorlink/internal/service/decoder"
)

func TestEmitProducesDecodableLines(t *testing.T) {
	for _, v := range []decoder.Variant{decoder.VariantKeyValue, decoder.VariantPositional} {
		t.Run(string(v), func(t *testing.T) {
			e, err := htmlindex.Get("utf-8")
			require.NoError(t, err)

			var out bytes.Buffer
			sim := newSimulator(rand.New(rand.NewSource(1)), v)
			require.NoError(t, emit(context.Background(), &out, e, v, sim, time.Millisecond, 5, false))

			dec, err := decoder.New(v)
			require.NoError(t, err)

			lines := 0
			scanner := bufio.NewScanner(&out)
			for scanner.Scan() {
				_, err := dec.Decode(scanner.Text())
				require.NoError(t, err, scanner.Text())
				lines++
			}
			assert.Equal(t, 5, lines)
		})
	}
}

func TestPartialKeyValueKeepsState(t *testing.T) {
	e, err := htmlindex.Get("utf-8")
	require.NoError(t, err)

	var out bytes.Buffer
	sim := newSimulator(rand.New(rand.NewSource(7)), decoder.VariantKeyValue)
	require.NoError(t, emit(context.Background(), &out, e, decoder.VariantKeyValue, sim, time.Millisecond, 20, true))

	dec, err := decoder.New(decoder.VariantKeyValue)
	require.NoError(t, err)
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		_, err := dec.Decode(scanner.Text())
		require.NoError(t, err, scanner.Text())
	}
	assert.Equal(t, sim.state, dec.State())
}

func TestPositionalLinesCarryFlags(t *testing.T) {
	e, err := htmlindex.Get("utf-8")
	require.NoError(t, err)

	var out bytes.Buffer
	sim := newSimulator(rand.New(rand.NewSource(3)), decoder.VariantPositional)
	require.NoError(t, emit(context.Background(), &out, e, decoder.VariantPositional, sim, time.Millisecond, 50, false))

	flags := map[string]bool{"0": true, "1": true}
	scanner := bufio.NewScanner(&out)
	lines := 0
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ",")
		require.Len(t, parts, 8, scanner.Text())
		for _, i := range []int{2, 4, 5, 6, 7} {
			assert.True(t, flags[parts[i]], "поле %d строки %q", i, scanner.Text())
		}
		humidity, err := strconv.ParseFloat(parts[3], 64)
		require.NoError(t, err)
		assert.True(t, humidity >= 0 && humidity <= 100, scanner.Text())
		lines++
	}
	assert.Equal(t, 50, lines)
}
