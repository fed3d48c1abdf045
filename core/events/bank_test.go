package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBankConversionDepositAttributes(t *testing.T) {
	account := common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	asset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := BankConversionDeposit{
		Account:      account,
		SourceAsset:  asset,
		SourceAmount: big.NewInt(10),
		Credited:     big.NewInt(500),
	}.Event()
	if evt.Type != TypeBankConversionDeposit {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["account"] != "0xa11ce00000000000000000000000000000000000" {
		t.Fatalf("account must be lower-case hex, got %s", evt.Attributes["account"])
	}
	if evt.Attributes["credited"] != "500" || evt.Attributes["sourceAmount"] != "10" {
		t.Fatalf("unexpected amounts %+v", evt.Attributes)
	}
}

func TestNilAmountsRenderAsZero(t *testing.T) {
	evt := BankCapUpdated{}.Event()
	if evt.Attributes["previous"] != "0" || evt.Attributes["cap"] != "0" {
		t.Fatalf("expected zero amounts, got %+v", evt.Attributes)
	}
}

func TestRecorderAndFanout(t *testing.T) {
	first := &Recorder{}
	second := &Recorder{}
	emitter := Fanout{first, nil, second}
	emitter.Emit(BankDeposit{Amount: big.NewInt(1)})
	emitter.Emit(BankWithdrawal{Amount: big.NewInt(1)})

	for _, rec := range []*Recorder{first, second} {
		got := rec.Events()
		if len(got) != 2 {
			t.Fatalf("expected two events, got %d", len(got))
		}
		if got[0].EventType() != TypeBankDeposit || got[1].EventType() != TypeBankWithdrawal {
			t.Fatalf("unexpected order: %s, %s", got[0].EventType(), got[1].EventType())
		}
	}
	first.Reset()
	if len(first.Events()) != 0 {
		t.Fatalf("expected reset recorder to be empty")
	}
}
