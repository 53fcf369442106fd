package venue

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// Credentials CLOB L2 API 凭证
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Valid 三项都存在
func (c Credentials) Valid() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

// OrderRequest 下单请求
type OrderRequest struct {
	TokenID     string
	Side        domain.Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	TimeInForce domain.TimeInForce
	NegRisk     bool
}

// OrderAck 交易所回执
type OrderAck struct {
	OrderID      string
	Status       string // matched / live / delayed / unmatched
	MakingAmount decimal.Decimal
	TakingAmount decimal.Decimal
}

// Matched 是否已立即成交
func (a OrderAck) Matched() bool {
	return a.Status == "matched"
}

// orderType CLOB 订单类型；IOC 在交易所侧称为 FAK
func orderType(tif domain.TimeInForce) string {
	switch tif {
	case domain.FOK:
		return "FOK"
	case domain.IOC:
		return "FAK"
	}
	return "GTC"
}

// signedOrder 提交给 CLOB 的签名订单
type signedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type newOrderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}
