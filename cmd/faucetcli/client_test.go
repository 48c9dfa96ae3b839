package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// newTestFaucet serves canned responses and records the request bodies.
func newTestFaucet(t *testing.T) (*httptest.Server, *[]map[string]interface{}) {
	var bodies []map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc("/send/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"txid": "00ff"}`))
	})
	mux.HandleFunc("/channel/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "we ran out of money, sorry :/"}`))
	})
	mux.HandleFunc("/leases", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, &bodies
}

// TestClient checks responses and API errors are decoded.
func TestClient(t *testing.T) {
	srv, bodies := newTestFaucet(t)
	c := newClient(srv.URL+"/", time.Second)

	var resp map[string]interface{}
	err := c.do(context.Background(), http.MethodPost, "/send/",
		map[string]interface{}{"address": "tb1q", "amount": 500}, &resp)
	require.NoError(t, err)
	require.Equal(t, "00ff", resp["txid"])
	require.Len(t, *bodies, 1)
	require.EqualValues(t, 500, (*bodies)[0]["amount"])

	err = c.do(context.Background(), http.MethodPost, "/channel/",
		map[string]interface{}{"node_id": "02ab"}, &resp)
	require.ErrorContains(t, err, "we ran out of money")

	err = c.do(context.Background(), http.MethodGet, "/leases", nil, &resp)
	require.ErrorContains(t, err, "404")
}

// TestCommands checks the commands build the request bodies from their
// flags and arguments.
func TestCommands(t *testing.T) {
	srv, bodies := newTestFaucet(t)

	app := cli.NewApp()
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "server"},
		cli.DurationFlag{Name: "timeout", Value: time.Second},
	}
	app.Commands = []cli.Command{sendCommand, leaseCommand}

	err := app.Run([]string{
		"faucetcli", "--server", srv.URL, "send", "tb1qaddr", "1000",
	})
	require.NoError(t, err)

	err = app.Run([]string{
		"faucetcli", "--server", srv.URL, "lease", "--capacity",
		"50000", "--duration", "1h", "02ab",
	})
	require.Error(t, err)

	require.Len(t, *bodies, 2)
	require.Equal(t, "tb1qaddr", (*bodies)[0]["address"])
	require.EqualValues(t, 1000, (*bodies)[0]["amount"])
	require.Equal(t, "02ab", (*bodies)[1]["node_id"])
	require.EqualValues(t, 50000, (*bodies)[1]["capacity"])
	require.Equal(t, "1h", (*bodies)[1]["duration"])
}

// TestPrintLeaseTable checks every lease becomes a table row.
func TestPrintLeaseTable(t *testing.T) {
	var buf bytes.Buffer
	printLeaseTable(&buf, []leaseEntry{{
		ID:           "6f1c2a8e-6a55-4b8e-9d1e-000000000001",
		ChannelPoint: "00ff:0",
		Capacity:     50_000,
		State:        "expiring",
		LastError:    "peer offline",
	}})

	out := buf.String()
	require.Contains(t, out, "CHANNEL POINT")
	require.Contains(t, out, "00ff:0")
	require.Contains(t, out, "expiring")
	require.Contains(t, out, "peer offline")
}
