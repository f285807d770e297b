package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inkboard/board-app/internal/canvas"
	"github.com/inkboard/board-app/internal/protocol"
)

// viewFlags is the pan offset commands apply to their screen coordinates.
type viewFlags struct {
	offsetX, offsetY float64
}

func (v *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&v.offsetX, "offset-x", 0, "view pan offset X")
	cmd.Flags().Float64Var(&v.offsetY, "offset-y", 0, "view pan offset Y")
}

func (v *viewFlags) validate() error {
	if err := checkFinite("offset-x", v.offsetX); err != nil {
		return err
	}
	return checkFinite("offset-y", v.offsetY)
}

func (v *viewFlags) apply(st *canvas.State) {
	if v.offsetX != 0 || v.offsetY != 0 {
		st.Pan(v.offsetX, v.offsetY)
	}
}

// checkFinite rejects NaN and infinities, which have no JSON encoding.
func checkFinite(name string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid %s %v: must be a finite number", name, f)
	}
	return nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil || checkFinite("coordinate", f) != nil {
			return nil, fmt.Errorf("invalid coordinate %q", a)
		}
		out[i] = f
	}
	return out, nil
}

func lineCmd() *cobra.Command {
	var (
		view  viewFlags
		color string
		width float64
	)

	cmd := &cobra.Command{
		Use:   "line X0 Y0 X1 Y1",
		Short: "Draw a straight segment",
		Long:  `Draw a segment between two screen points. The points are converted to world coordinates with the --offset-x/--offset-y view.`,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return drawSegment(cmd, args, view, color, width)
		},
	}

	view.register(cmd)
	cmd.Flags().StringVarP(&color, "color", "c", "#ffffff", "stroke color")
	cmd.Flags().Float64VarP(&width, "width", "w", 2, "stroke width")
	return cmd
}

func eraseCmd() *cobra.Command {
	var (
		view  viewFlags
		width float64
	)

	cmd := &cobra.Command{
		Use:   "erase X0 Y0 X1 Y1",
		Short: "Erase along a segment",
		Long:  `Erase by painting a segment in the board background color.`,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return drawSegment(cmd, args, view, canvas.BackgroundColor, width)
		},
	}

	view.register(cmd)
	cmd.Flags().Float64VarP(&width, "width", "w", 20, "eraser width")
	return cmd
}

func drawSegment(cmd *cobra.Command, args []string, view viewFlags, color string, width float64) error {
	if err := view.validate(); err != nil {
		return err
	}
	if err := checkFinite("width", width); err != nil {
		return err
	}
	coords, err := parseFloats(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	view.apply(s.st)
	if _, err := s.st.DrawLine(
		canvas.Point{X: coords[0], Y: coords[1]},
		canvas.Point{X: coords[2], Y: coords[3]},
		color, width,
	); err != nil {
		return err
	}
	if err := s.settle(cmd.Context()); err != nil {
		return err
	}

	confirmed := s.st.Confirmed()
	success("drew %s", describe(confirmed[len(confirmed)-1]))
	return nil
}

func textCmd() *cobra.Command {
	var (
		view  viewFlags
		color string
		size  float64
		font  string
	)

	cmd := &cobra.Command{
		Use:   "text CONTENT X Y",
		Short: "Place text",
		Long:  `Place text whose top-left corner is at the given screen point.`,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := view.validate(); err != nil {
				return err
			}
			if err := checkFinite("size", size); err != nil {
				return err
			}
			coords, err := parseFloats(args[1:])
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			view.apply(s.st)
			if _, err := s.st.PlaceText(canvas.Point{X: coords[0], Y: coords[1]}, args[0], color, size, font); err != nil {
				return err
			}
			if err := s.settle(cmd.Context()); err != nil {
				return err
			}

			confirmed := s.st.Confirmed()
			success("placed %s", describe(confirmed[len(confirmed)-1]))
			return nil
		},
	}

	view.register(cmd)
	cmd.Flags().StringVarP(&color, "color", "c", "#ffffff", "text color")
	cmd.Flags().Float64VarP(&size, "size", "s", 2, "font size unit (1 unit = 10px)")
	cmd.Flags().StringVar(&font, "font", "sans-serif", "font family")
	return cmd
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the board for everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome := make(chan error, 1)
			s, err := openSession(cmd.Context(), func(msgType string, msg interface{}) {
				switch m := msg.(type) {
				case protocol.ClearMsg:
					select {
					case outcome <- nil:
					default:
					}
				case protocol.RejectMsg:
					if m.Op == protocol.TypeClear {
						select {
						case outcome <- fmt.Errorf("server rejected clear: %s (%s)", m.Message, m.Code):
						default:
						}
					}
				}
			})
			if err != nil {
				return err
			}
			defer s.Close()

			before := len(s.st.Confirmed())
			if err := s.st.Clear(); err != nil {
				return err
			}

			select {
			case err := <-outcome:
				if err != nil {
					return err
				}
			case <-s.c.Done():
				return fmt.Errorf("connection lost: %w", s.c.Err())
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			success("cleared %d events", before)
			return nil
		},
	}
}
