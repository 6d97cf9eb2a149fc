package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qsat/internal/expr"
	"qsat/internal/parser"
	"qsat/internal/qe"
)

var (
	ProblemFile string
	Verbose     bool
)

var checkCommand = &cobra.Command{
	Use:   "check",
	Short: "decide satisfiability of a quantified problem",
	Long:  ``,
	Run: func(*cobra.Command, []string) {
		if err := checkExec(); err != nil {
			fmt.Printf("service err: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	checkCommand.Flags().StringVar(&ProblemFile, "file", "", "problem file")
	checkCommand.Flags().BoolVar(&Verbose, "verbose", false, "debug logging")
}

func checkExec() error {
	if Verbose {
		log.SetLevel(log.DebugLevel)
	}
	data, err := os.ReadFile(ProblemFile)
	if err != nil {
		return err
	}
	m := expr.NewManager()
	fml, err := parser.New(m).Parse(string(data))
	if err != nil {
		return err
	}
	res, mdl, err := qe.CheckSat(m, fml)
	if err != nil {
		return err
	}
	fmt.Println(res)
	if mdl != nil {
		for _, c := range m.Consts(fml, nil) {
			if v, ok := mdl.Value(c); ok {
				fmt.Printf("%s = %s\n", m.Name(c), m.String(v))
			}
		}
	}
	return nil
}
