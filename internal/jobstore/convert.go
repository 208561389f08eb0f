package jobstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// beijingZone is the fixed timezone all stored timestamp strings use.
var beijingZone = time.FixedZone("BJT", 8*60*60)

// timestampFields are the record fields whose numeric values are rendered
// into the fixed timezone string format on write.
var timestampFields = map[string]struct{}{
	"started_at":   {},
	"completed_at": {},
	"received_at":  {},
	"failed_at":    {},
}

// formatTimestamp renders epoch seconds as e.g. "2025-07-16 07:27:19 BJT".
func formatTimestamp(epochSeconds float64) string {
	sec := int64(epochSeconds)
	nsec := int64((epochSeconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).In(beijingZone).Format("2006-01-02 15:04:05 MST")
}

// numericTimestamp reports whether the field is a recognized timestamp field
// carrying a numeric value, and returns that value as epoch seconds.
func numericTimestamp(field string, value any) (float64, bool) {
	if _, ok := timestampFields[field]; !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// unixSeconds converts a time to fractional epoch seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// formatNumber renders a float as an exact decimal string without exponent
// notation; the store has no native floating point representation.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// normalizeValue converts an arbitrary value into a DynamoDB attribute
// value. The conversion is total and recursive: floats anywhere in nested
// maps and slices become exact-decimal number attributes. Struct values
// fall through to the SDK marshaller, which applies the same decimal
// rendering to their numeric fields.
func normalizeValue(value any) (types.AttributeValue, error) {
	switch v := value.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: v}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: formatNumber(v)}, nil
	case float32:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(float64(v), 'f', -1, 32)}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}, nil
	case int32:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}, nil
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(v))
		for key, item := range v {
			av, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			m[key] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		l := make([]types.AttributeValue, 0, len(v))
		for _, item := range v {
			av, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			l = append(l, av)
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	default:
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value of type %T: %w", value, err)
		}
		return av, nil
	}
}
