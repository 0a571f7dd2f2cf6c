package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("MATRIX_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "register":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and the registration payment in wei.")
			printUsage()
			return
		}
		register(args[1], args[2], "")
	case "register-with-referrer":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, a referrer address, and the payment in wei.")
			printUsage()
			return
		}
		register(args[1], args[3], args[2])
	case "buy":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, a level, and the payment in wei.")
			printUsage()
			return
		}
		buyLevel(args[1], args[2], args[3])
	case "user":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		query("matrix_getUser", map[string]string{"address": args[1]})
	case "levels":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		query("matrix_getUserLevels", map[string]string{"address": args[1]})
	case "frozen":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a level.")
			printUsage()
			return
		}
		levelQuery("matrix_isLevelFrozen", args[1], args[2])
	case "place":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a level.")
			printUsage()
			return
		}
		levelQuery("matrix_getPlaceInQueue", args[1], args[2])
	case "stats":
		query("matrix_getGlobalStats", nil)
	case "prices":
		query("matrix_levelPrices", nil)
	case "registration-price":
		query("matrix_registrationPrice", nil)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func register(address, payment, referrer string) {
	params := map[string]string{"address": address, "paymentWei": payment}
	method := "matrix_register"
	if referrer != "" {
		method = "matrix_registerWithReferrer"
		params["referrer"] = referrer
	}
	result, err := callRPC(method, params, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func buyLevel(address, level, payment string) {
	lvl, err := strconv.ParseUint(level, 10, 8)
	if err != nil {
		fmt.Printf("Error: invalid level %q\n", level)
		os.Exit(1)
	}
	result, err := callRPC("matrix_buyLevel", map[string]interface{}{
		"address":    address,
		"level":      lvl,
		"paymentWei": payment,
	}, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func levelQuery(method, address, level string) {
	lvl, err := strconv.ParseUint(level, 10, 8)
	if err != nil {
		fmt.Printf("Error: invalid level %q\n", level)
		os.Exit(1)
	}
	query(method, map[string]interface{}{"address": address, "level": lvl})
}

func query(method string, params interface{}) {
	result, err := callRPC(method, params, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func callRPC(method string, param interface{}, mutating bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if mutating && rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node (code %d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: matrix-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Mutating commands send MATRIX_RPC_TOKEN as a bearer token when set.")
	fmt.Println("Commands:")
	fmt.Println("  register <address> <paymentWei>                        - Registers an address with no referrer")
	fmt.Println("  register-with-referrer <address> <referrer> <paymentWei> - Registers an address under a referrer")
	fmt.Println("  buy <address> <level> <paymentWei>                     - Activates a level for an address")
	fmt.Println("  user <address>                                         - Shows the registry snapshot for an address")
	fmt.Println("  levels <address>                                       - Shows the per-level state for an address")
	fmt.Println("  frozen <address> <level>                               - Reports whether a level is frozen")
	fmt.Println("  place <address> <level>                                - Shows the rotation queue position")
	fmt.Println("  stats                                                  - Shows global members/transactions/turnover")
	fmt.Println("  prices                                                 - Shows the configured level prices")
	fmt.Println("  registration-price                                     - Shows the registration price")
}
