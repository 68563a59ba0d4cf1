package main

import (
	"flag"
	"log"

	"github.com/metabolights/folder-lens/lens"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "studyreport.json", "Warning summary written by studylens")
	reportChartsFile := flag.String("charts", "studyreport.png", "File to output the overview chart image (png, jpg or svg)")
	flag.Parse()

	summaries, err := lens.ReadSummaryJSON(*reportJsonFile)
	if err != nil {
		log.Fatalf("%sFailed to read summary: %v", lens.ErrorLogPrefix, err)
	} else if err := lens.WriteSummaryChart(*reportChartsFile, summaries); err != nil {
		log.Fatalf("%sFailed to render charts: %v", lens.ErrorLogPrefix, err)
	}
	log.Println("Report file wrote: " + *reportChartsFile)
}
