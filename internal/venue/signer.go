package venue

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/betbot/gosignal/internal/domain"
)

// Polygon 主网合约
const (
	PolygonChainID       = 137
	ExchangeAddress      = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchange      = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	zeroAddress          = "0x0000000000000000000000000000000000000000"
	collateralDecimals   = 6
	signatureTypeEOA     = 0
	signatureTypeProxied = 1
)

var orderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "salt", Type: "uint256"},
		{Name: "maker", Type: "address"},
		{Name: "signer", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "makerAmount", Type: "uint256"},
		{Name: "takerAmount", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "feeRateBps", Type: "uint256"},
		{Name: "side", Type: "uint8"},
		{Name: "signatureType", Type: "uint8"},
	},
}

// Signer 订单 EIP-712 签名与 L2 HMAC 认证
type Signer struct {
	key     *ecdsa.PrivateKey
	chainID int64
	funder  string
}

// NewSigner hexKey 可带 0x 前缀；funder 为空时 maker 即签名地址
func NewSigner(hexKey string, chainID int64, funder string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	if chainID == 0 {
		chainID = PolygonChainID
	}
	return &Signer{key: key, chainID: chainID, funder: funder}, nil
}

// Address 签名地址
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func toUnits(d decimal.Decimal) *big.Int {
	return d.Shift(collateralDecimals).Truncate(0).BigInt()
}

// orderAmounts BUY 付出 USDC 收到份额，SELL 反之；USDC 两位小数向下取整
func orderAmounts(req OrderRequest) (maker, taker *big.Int) {
	shares := domain.FloorShares(req.Size)
	usdc := req.Price.Mul(shares).RoundFloor(2)
	if req.Side == domain.SideBuy {
		return toUnits(usdc), toUnits(shares)
	}
	return toUnits(shares), toUnits(usdc)
}

// SignOrder 构建并签名订单
func (s *Signer) SignOrder(req OrderRequest, salt int64) (signedOrder, error) {
	tokenID, ok := new(big.Int).SetString(req.TokenID, 10)
	if !ok {
		return signedOrder{}, fmt.Errorf("无效的 tokenID: %s", req.TokenID)
	}
	makerAmt, takerAmt := orderAmounts(req)

	signer := s.Address().Hex()
	maker, sigType := signer, signatureTypeEOA
	if s.funder != "" {
		maker, sigType = common.HexToAddress(s.funder).Hex(), signatureTypeProxied
	}
	exchange := ExchangeAddress
	if req.NegRisk {
		exchange = NegRiskExchange
	}
	side := int64(1)
	if req.Side == domain.SideBuy {
		side = 0
	}

	typed := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: exchange,
		},
		Message: map[string]interface{}{
			"salt":          big.NewInt(salt),
			"maker":         maker,
			"signer":        signer,
			"taker":         zeroAddress,
			"tokenId":       tokenID,
			"makerAmount":   makerAmt,
			"takerAmount":   takerAmt,
			"expiration":    big.NewInt(0),
			"nonce":         big.NewInt(0),
			"feeRateBps":    big.NewInt(0),
			"side":          big.NewInt(side),
			"signatureType": big.NewInt(int64(sigType)),
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return signedOrder{}, fmt.Errorf("计算 EIP712 哈希失败: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return signedOrder{}, fmt.Errorf("签名失败: %w", err)
	}
	sig[64] += 27

	return signedOrder{
		Salt:          salt,
		Maker:         maker,
		Signer:        signer,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          string(req.Side),
		SignatureType: sigType,
		Signature:     "0x" + common.Bytes2Hex(sig),
	}, nil
}

// L2Headers API 密钥认证头
func (s *Signer) L2Headers(creds Credentials, ts int64, method, path, body string) (map[string]string, error) {
	sig, err := hmacSignature(creds.Secret, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    s.Address().Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(ts, 10),
		"POLY_API_KEY":    creds.Key,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// hmacSignature base64url secret 上的 HMAC-SHA256，结果为 URL 安全 base64
func hmacSignature(secret string, ts int64, method, path, body string) (string, error) {
	sanitized := strings.NewReplacer("-", "+", "_", "/").Replace(secret)
	key, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(ts, 10) + method + path + body))
	out := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.NewReplacer("+", "-", "/", "_").Replace(out), nil
}
