package marketdata

import "time"

// DailyBar 为单日复权收盘价。
type DailyBar struct {
	Date     time.Time
	AdjClose float64
}

// AnalystInfo 为分析师目标价与评级，缺失字段为 nil。
type AnalystInfo struct {
	Symbol                  string   `json:"symbol"`
	Name                    string   `json:"name"`
	CurrentPrice            *float64 `json:"currentPrice"`
	TargetHighPrice         *float64 `json:"targetHighPrice"`
	TargetLowPrice          *float64 `json:"targetLowPrice"`
	TargetMeanPrice         *float64 `json:"targetMeanPrice"`
	TargetMedianPrice       *float64 `json:"targetMedianPrice"`
	RecommendationMean      *float64 `json:"recommendationMean"`
	RecommendationKey       string   `json:"recommendationKey"`
	NumberOfAnalystOpinions *int     `json:"numberOfAnalystOpinions"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		Currency  string `json:"currency"`
		GMTOffset int    `json:"gmtoffset"`
		Timezone  string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []quoteSummaryResult `json:"result"`
		Error  *apiError            `json:"error"`
	} `json:"quoteSummary"`
}

type quoteSummaryResult struct {
	FinancialData *struct {
		CurrentPrice            rawValue `json:"currentPrice"`
		TargetHighPrice         rawValue `json:"targetHighPrice"`
		TargetLowPrice          rawValue `json:"targetLowPrice"`
		TargetMeanPrice         rawValue `json:"targetMeanPrice"`
		TargetMedianPrice       rawValue `json:"targetMedianPrice"`
		RecommendationMean      rawValue `json:"recommendationMean"`
		RecommendationKey       string   `json:"recommendationKey"`
		NumberOfAnalystOpinions rawValue `json:"numberOfAnalystOpinions"`
	} `json:"financialData"`
	Price *struct {
		Symbol    string `json:"symbol"`
		LongName  string `json:"longName"`
		ShortName string `json:"shortName"`
	} `json:"price"`
}

// rawValue 对应 {"raw": 1.23, "fmt": "1.23"}，空对象表示缺失。
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) intPtr() *int {
	if v.Raw == nil {
		return nil
	}
	n := int(*v.Raw)
	return &n
}
