package enums

import "strings"

type Gateway string

const (
	GatewayZarinpal Gateway = "ZARINPAL"
	GatewayZibal    Gateway = "ZIBAL"
	GatewayPayir    Gateway = "PAYIR"
	GatewayManual   Gateway = "MANUAL"
	GatewaySandbox  Gateway = "SANDBOX"
)

func (g Gateway) Valid() bool {
	switch g {
	case GatewayZarinpal, GatewayZibal, GatewayPayir, GatewayManual, GatewaySandbox:
		return true
	}
	return false
}

func ParseGateway(value string) (Gateway, bool) {
	g := Gateway(strings.ToUpper(strings.TrimSpace(value)))
	if !g.Valid() {
		return "", false
	}
	return g, true
}
