// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mdsaad/internal/ops"
)

func (a *App) newChatCmd() *cobra.Command {
	var o ops.ChatOptions
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Ask the configured AI providers",
		Long:  "Sends a prompt through the provider fabric: the relay first when\nenabled, then direct providers in priority order with failover.",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.core.Chat.Run(cmd.Context(), strings.Join(args, " "), o)
			if err != nil {
				return err
			}

			if o.Stream {
				for chunk := range res.Reply.Chunks() {
					fmt.Fprint(a.out, chunk)
				}
				fmt.Fprintln(a.out)
			} else {
				fmt.Fprintln(a.out, res.Reply.Content)
			}

			tokens := ""
			if res.Reply.Usage.TotalTokens > 0 {
				tokens = strconv.Itoa(res.Reply.Usage.TotalTokens)
			}
			elapsed := ""
			if res.Elapsed > 0 {
				elapsed = res.Elapsed.Round(time.Millisecond).String()
			}
			a.attribution(
				"provider", res.Provider,
				"via", res.Via,
				"model", res.Reply.Model,
				"attempt", strconv.Itoa(res.Attempt),
				"tokens", tokens,
				"elapsed", elapsed,
				"request_id", res.RequestID,
			)
			if a.verbose {
				for _, at := range res.ProxyAttempts {
					fmt.Fprintln(a.errOut, styleDim.Render(fmt.Sprintf("relay %s failed: %s", at.URL, at.Reason)))
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.Model, "model", "m", "", "model name or alias; routes to the provider that owns it")
	f.StringVarP(&o.Provider, "provider", "p", "", "pin one provider (disables the relay and failover)")
	f.Float64VarP(&o.Temperature, "temperature", "t", 0, "sampling temperature")
	f.IntVar(&o.MaxTokens, "max-tokens", 0, "completion token cap")
	f.BoolVar(&o.Stream, "stream", false, "print the reply as it arrives")
	f.StringVarP(&o.System, "system", "s", "", "system prompt")
	f.StringVar(&o.Context, "context", "recent", "history sent along: none, recent or all")
	return cmd
}
