package jobstore

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker/domain"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name         string
		epochSeconds float64
		expected     string
	}{
		{
			name:         "whole seconds",
			epochSeconds: 1752650839, // 2025-07-16 07:27:19 UTC
			expected:     "2025-07-16 15:27:19 BJT",
		},
		{
			name:         "fractional seconds truncated",
			epochSeconds: 1752650839.73,
			expected:     "2025-07-16 15:27:19 BJT",
		},
		{
			name:         "epoch zero",
			epochSeconds: 0,
			expected:     "1970-01-01 08:00:00 BJT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatTimestamp(tt.epochSeconds))
		})
	}
}

func TestNumericTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		value  any
		want   float64
		wantOk bool
	}{
		{name: "started_at float", field: "started_at", value: 1752650839.5, want: 1752650839.5, wantOk: true},
		{name: "completed_at int", field: "completed_at", value: 1752650839, want: 1752650839, wantOk: true},
		{name: "received_at int64", field: "received_at", value: int64(1752650839), want: 1752650839, wantOk: true},
		{name: "failed_at float", field: "failed_at", value: 1752650839.0, want: 1752650839, wantOk: true},
		{name: "timestamp field with string value passes through", field: "started_at", value: "already formatted", wantOk: false},
		{name: "non-timestamp field with numeric value", field: "processing_time", value: 12.5, wantOk: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericTimestamp(tt.field, tt.value)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected string
	}{
		{name: "integer value", value: 42, expected: "42"},
		{name: "fractional value", value: 12.5, expected: "12.5"},
		{name: "large value stays decimal", value: 1752650839.25, expected: "1752650839.25"},
		{name: "small value no exponent", value: 0.001, expected: "0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.value))
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		av, err := normalizeValue("hello")
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "hello"}, av)

		av, err = normalizeValue(true)
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, av)

		av, err = normalizeValue(nil)
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberNULL{Value: true}, av)
	})

	t.Run("floats become exact decimal numbers", func(t *testing.T) {
		av, err := normalizeValue(3.25)
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "3.25"}, av)

		av, err = normalizeValue(1752650839.5)
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1752650839.5"}, av)
	})

	t.Run("integers", func(t *testing.T) {
		av, err := normalizeValue(7)
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "7"}, av)

		av, err = normalizeValue(int64(9000000000))
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "9000000000"}, av)
	})

	t.Run("nested maps and lists converted recursively", func(t *testing.T) {
		av, err := normalizeValue(map[string]any{
			"pages": 12,
			"times": []any{0.5, 1.25},
			"meta":  map[string]any{"ok": true},
		})
		require.NoError(t, err)

		m, ok := av.(*types.AttributeValueMemberM)
		require.True(t, ok)

		assert.Equal(t, &types.AttributeValueMemberN{Value: "12"}, m.Value["pages"])

		l, ok := m.Value["times"].(*types.AttributeValueMemberL)
		require.True(t, ok)
		assert.Equal(t, &types.AttributeValueMemberN{Value: "0.5"}, l.Value[0])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1.25"}, l.Value[1])

		inner, ok := m.Value["meta"].(*types.AttributeValueMemberM)
		require.True(t, ok)
		assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, inner.Value["ok"])
	})

	t.Run("structs fall through to the sdk marshaller", func(t *testing.T) {
		av, err := normalizeValue(&domain.ProcessingResult{
			Status:         "success",
			InputFile:      "report.pdf",
			PagesProcessed: 3,
			ProcessingTime: 4.5,
		})
		require.NoError(t, err)

		m, ok := av.(*types.AttributeValueMemberM)
		require.True(t, ok)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "success"}, m.Value["status"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, m.Value["pages_processed"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "4.5"}, m.Value["processing_time"])
	})
}

func TestUnixSeconds(t *testing.T) {
	ts := time.Date(2025, 7, 16, 7, 27, 19, 500_000_000, time.UTC)
	assert.InDelta(t, 1752650839.5, unixSeconds(ts), 0.001)
}
