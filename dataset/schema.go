// Package dataset は分割されたCSVシャードを読み込み、ラベル付きバッチを生成します。
//
// 学習用ローダーは無限に繰り返し、大きなシャッフルバッファからサンプルを
// 取り出します。評価用ローダーは1パスのみ、シャッフルなしで読み込むため、
// エポック間で評価結果を比較できます。
//
// 不正な行は ParseError として伝搬し、黙って読み飛ばすことはありません。
package dataset

// CSV列名。入力ファイルはこの順序の8列で構成されます。
const (
	ColFareAmount       = "fare_amount"
	ColPickupDatetime   = "pickup_datetime"
	ColPickupLongitude  = "pickup_longitude"
	ColPickupLatitude   = "pickup_latitude"
	ColDropoffLongitude = "dropoff_longitude"
	ColDropoffLatitude  = "dropoff_latitude"
	ColPassengerCount   = "passenger_count"
	ColKey              = "key"
)

// NumColumns は入力ファイルの列数です。
const NumColumns = 8

// LabelColumn は予測対象の列です。
const LabelColumn = ColFareAmount

// CSVColumns はファイル上の列順です。
var CSVColumns = []string{
	ColFareAmount,
	ColPickupDatetime,
	ColPickupLongitude,
	ColPickupLatitude,
	ColDropoffLongitude,
	ColDropoffLatitude,
	ColPassengerCount,
	ColKey,
}

// InputColumns はモデルへの入力列（CSV列からラベルと pickup_datetime, key を除いたもの）です。
var InputColumns = []string{
	ColPickupLongitude,
	ColPickupLatitude,
	ColDropoffLongitude,
	ColDropoffLatitude,
	ColPassengerCount,
}

// 空欄のときに使う列の既定値。
const (
	DefaultFloat  = 0.0
	DefaultString = "na"
)

func isStringColumn(col int) bool {
	return col == 1 || col == 7
}
