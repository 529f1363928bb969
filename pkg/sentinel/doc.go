// Package sentinel scores CI/CD pipeline logs with a trained classifier and
// reports the records whose anomaly probability exceeds a threshold.
//
// Quick start:
//
//	d, err := sentinel.New(sentinel.WithModelDir("models/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	res, _ := d.DetectFiles(ctx, "runs.csv", "runs.json")
//	for _, a := range res.Anomalies {
//	    fmt.Println(a.RunID, a.Stage, a.Probability)
//	}
//
// A Detector is safe for concurrent use. Create once, reuse across calls.
package sentinel
