package risk

import "grvtbot/internal/models"

type Action string

const (
	ActionAllow       Action = "allow"
	ActionSkip        Action = "skip"
	ActionHalt        Action = "halt"
	ActionFlattenHalt Action = "flatten_halt"
)

type Code string

const (
	CodeOK                    Code = "OK"
	CodeInvalidSide           Code = "INVALID_SIDE"
	CodeKillSwitch            Code = "KILL_SWITCH"
	CodeHalted                Code = "HALTED"
	CodeReferencePriceMissing Code = "REFERENCE_PRICE_MISSING"
	CodeNotionalInputMissing  Code = "NOTIONAL_INPUT_MISSING"
	CodeInvalidNotional       Code = "INVALID_NOTIONAL"
	CodeComputedQtyInvalid    Code = "COMPUTED_QTY_INVALID"
	CodeMarketLimitsMissing   Code = "MARKET_LIMITS_MISSING"
	CodeMinQtyMissing         Code = "MIN_QTY_MISSING"
	CodeMinQtyInvalid         Code = "MIN_QTY_INVALID"
	CodeMinQtyViolation       Code = "MIN_QTY_VIOLATION"
	CodeMinNotionalViolation  Code = "MIN_NOTIONAL_VIOLATION"
	CodeEquityDataMissing     Code = "EQUITY_DATA_MISSING"
	CodeEquityDataInvalid     Code = "EQUITY_DATA_INVALID"
	CodeMaxDrawdownHit        Code = "MAX_DRAWDOWN_HIT"
	CodeProfitTargetHit       Code = "PROFIT_TARGET_HIT"
)

// Decision — неизменяемый результат одной проверки риска.
// Числовые поля заполняются только там, где это указано в Reason/Code.
type Decision struct {
	Allowed                bool
	Code                   Code
	Reason                 string
	Action                 Action
	OrderQty               float64
	OrderNotionalUSDT      float64
	DerivedMinNotionalUSDT float64
	PnlPct                 float64
}

// EntryRequest — снимок входных данных для проверки входа в позицию.
// Указатели отмечают необязательные значения.
type EntryRequest struct {
	Side              models.Side
	AmountUSDT        *float64
	ReferencePrice    float64
	MarketLimits      *models.MarketLimits
	IsHalted          bool
	AccountEquityUSDT *float64
	Leverage          *float64
}
