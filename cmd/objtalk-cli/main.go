// Command objtalk-cli is a thin HTTP client for objtalkd: get/set/patch/
// remove/emit against a running broker's REST surface. Its invoke
// subcommand always fails, since invoke needs a stateful connection.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:           "objtalk-cli",
		Short:         "Command-line client for an objtalkd broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "url", "u", "http://127.0.0.1:3000", "objtalkd HTTP address")

	rootCmd.AddCommand(getCmd(), setCmd(), patchCmd(), removeCmd(), emitCmd(), invokeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <pattern>",
		Short: "fetch every object matching a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := doQuery(args[0])
			if err != nil {
				return err
			}
			return printJSON(objects)
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "replace an object's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doWrite(http.MethodPost, "/objects/"+url.PathEscape(args[0]), []byte(args[1]))
		},
	}
}

func patchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <name> <value>",
		Short: "merge a value onto an existing object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doWrite(http.MethodPatch, "/objects/"+url.PathEscape(args[0]), []byte(args[1]))
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := doRemove(args[0])
			if err != nil {
				return err
			}
			if !existed {
				fmt.Fprintf(os.Stderr, "%s doesn't exist\n", args[0])
			}
			return nil
		},
	}
}

func emitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emit <object> <event> <data>",
		Short: "emit an ephemeral event on an object",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]json.RawMessage{"event": mustJSONString(args[1]), "data": json.RawMessage(args[2])})
			if err != nil {
				return err
			}
			return doWrite(http.MethodPost, "/events/"+url.PathEscape(args[0]), body)
		},
	}
}

func invokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <object> <method> <args>",
		Short: "not supported over HTTP: invoke requires a stateful connection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("invoke requires a stateful transport (tcp or websocket); objtalk-cli only speaks REST")
		},
	}
}

func mustJSONString(s string) json.RawMessage {
	encoded, _ := json.Marshal(s)
	return encoded
}

func doQuery(pattern string) (interface{}, error) {
	resp, err := http.Get(serverURL + "/query?pattern=" + url.QueryEscape(pattern))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}
	var objects interface{}
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func doWrite(method, path string, body []byte) error {
	req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return nil
}

func doRemove(name string) (bool, error) {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/objects/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, httpError(resp)
	}
	return true, nil
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s: %s", resp.Status, string(body))
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
