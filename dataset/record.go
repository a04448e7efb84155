package dataset

import (
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
)

// RawRecord は入力ファイルの1行を解析した結果です。
type RawRecord struct {
	FareAmount       float64
	PickupDatetime   string
	PickupLongitude  float64
	PickupLatitude   float64
	DropoffLongitude float64
	DropoffLatitude  float64
	PassengerCount   float64
	Key              string
}

// ParseRecord は8列のフィールドを RawRecord に変換します。
// file と line はエラー報告にのみ使います。
func ParseRecord(file string, line int, fields []string) (RawRecord, error) {
	if len(fields) != NumColumns {
		return RawRecord{}, errors.NewParseError(file, line, "", "",
			"expected "+strconv.Itoa(NumColumns)+" columns, got "+strconv.Itoa(len(fields)))
	}

	var nums [NumColumns]float64
	var strs [NumColumns]string
	for i, raw := range fields {
		v := strings.TrimSpace(raw)
		if isStringColumn(i) {
			if v == "" {
				v = DefaultString
			}
			strs[i] = v
			continue
		}
		if v == "" {
			nums[i] = DefaultFloat
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return RawRecord{}, errors.NewParseError(file, line, CSVColumns[i], raw, "not a number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return RawRecord{}, errors.NewParseError(file, line, CSVColumns[i], raw, "not a finite number")
		}
		nums[i] = f
	}

	return RawRecord{
		FareAmount:       nums[0],
		PickupDatetime:   strs[1],
		PickupLongitude:  nums[2],
		PickupLatitude:   nums[3],
		DropoffLongitude: nums[4],
		DropoffLatitude:  nums[5],
		PassengerCount:   nums[6],
		Key:              strs[7],
	}, nil
}

// isHeader reports whether fields is the column-name row.
func isHeader(fields []string) bool {
	if len(fields) != len(CSVColumns) {
		return false
	}
	for i, f := range fields {
		if strings.TrimSpace(f) != CSVColumns[i] {
			return false
		}
	}
	return true
}
