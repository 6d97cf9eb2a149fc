package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qsat/internal/expr"
	"qsat/internal/parser"
	"qsat/internal/qe"
)

var ElimPrefix string

var eliminateCommand = &cobra.Command{
	Use:   "eliminate",
	Short: "eliminate uninterpreted predicates from an EPR problem",
	Long:  ``,
	Run: func(*cobra.Command, []string) {
		if err := eliminateExec(); err != nil {
			fmt.Printf("service err: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	eliminateCommand.Flags().StringVar(&ProblemFile, "file", "", "problem file")
	eliminateCommand.Flags().StringVar(&ElimPrefix, "prefix", "_", "name prefix of predicates to eliminate")
	eliminateCommand.Flags().BoolVar(&Verbose, "verbose", false, "debug logging")
}

func eliminateExec() error {
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
	answer, err := qe.EliminateEPR(m, fml, func(name string) bool {
		return strings.HasPrefix(name, ElimPrefix)
	})
	if err != nil {
		return err
	}
	fmt.Println(m.String(m.And(answer...)))
	return nil
}
