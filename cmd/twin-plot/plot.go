package main

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/twin.bridge/internal/db"
)

var jointColors = []color.Color{
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// series holds readings as points against seconds since the first one.
type series struct {
	joints   [3]plotter.XYs
	distance plotter.XYs
}

func buildSeries(rows []db.ReadingRow) series {
	sorted := append([]db.ReadingRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
	})

	var s series
	if len(sorted) == 0 {
		return s
	}
	start := sorted[0].UpdatedAt
	for _, r := range sorted {
		x := r.UpdatedAt.Sub(start).Seconds()
		s.joints[0] = append(s.joints[0], plotter.XY{X: x, Y: float64(r.JointA)})
		s.joints[1] = append(s.joints[1], plotter.XY{X: x, Y: float64(r.JointB)})
		s.joints[2] = append(s.joints[2], plotter.XY{X: x, Y: float64(r.JointC)})
		s.distance = append(s.distance, plotter.XY{X: x, Y: float64(r.Distance)})
	}
	return s
}

// renderJoints writes the three joint angles to path.
func renderJoints(s series, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle (deg)"

	for i, name := range []string{"A", "B", "C"} {
		line, err := plotter.NewLine(s.joints[i])
		if err != nil {
			return fmt.Errorf("joint %s: %w", name, err)
		}
		line.Color = jointColors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("Joint "+name, line)
	}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

// renderDistance writes the distance sensor trace to path.
func renderDistance(s series, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Distance"

	scatter, err := plotter.NewScatter(s.distance)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter, plotter.NewGrid())

	return p.Save(14*vg.Inch, 4*vg.Inch, path)
}
