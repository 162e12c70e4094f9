// Copyright 2025 PolyCrypt GmbH
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

// Command rentchannel operates a rent payment channel settlement node.
package main

import (
	"fmt"
	"io"
	"os"

	"perun.network/perun-rentchannel-backend/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the command line args and closes the node afterwards, also
// when the command failed.
func run(args []string, out io.Writer) error {
	a := &app{v: config.New()}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}
