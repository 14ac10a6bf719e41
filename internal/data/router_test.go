package data

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitsafe/internal/types"
)

func TestMarketRouterRoute(t *testing.T) {
	cases := []struct {
		symbol string
		market types.MarketType
		ok     bool
	}{
		{"600519", types.MarketCNA, true},
		{"000001", types.MarketCNA, true},
		{"300750", types.MarketCNA, true},
		{"688111", types.MarketCNA, true},
		{"830799", types.MarketCNA, true},
		{"430047", types.MarketCNA, true},
		{"0700.HK", types.MarketHK, true},
		{"09988.HK", types.MarketHK, true},
		{"AAPL", types.MarketUS, true},
		{"TSLA", types.MarketUS, true},
		{"BRK.B", types.MarketUS, true},
		{"123456", "", false}, // 前缀不在 A股集合
		{"12.HK", "", false},
		{"TOOLONGG", "", false},
		{"", "", false},
	}

	var router MarketRouter
	for _, tc := range cases {
		market, err := router.Route(tc.symbol)
		if tc.ok {
			require.NoError(t, err, tc.symbol)
			assert.Equal(t, tc.market, market, tc.symbol)
		} else {
			var notSupported *MarketNotSupportedError
			require.True(t, errors.As(err, &notSupported), tc.symbol)
			assert.Equal(t, tc.symbol, notSupported.Symbol)
			assert.Contains(t, notSupported.Error(), "E009")
		}
	}
}

func TestDataRouterGetAdapter(t *testing.T) {
	us := &fakeAdapter{name: "us"}
	cna := &fakeAdapter{name: "cna"}
	router := NewDataRouter(RouterConfig{
		US:  AdapterChain{Primary: us},
		CNA: AdapterChain{Primary: cna},
	})

	got, err := router.GetAdapter("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "us", got.Name())

	got, err = router.GetAdapter("600519")
	require.NoError(t, err)
	assert.Equal(t, "cna", got.Name())

	_, err = router.GetAdapter("999999")
	assert.Error(t, err)
}
