package main

import "github.com/spf13/cobra"

func newRenderCmd(app Runner, opts *AppOptions) *cobra.Command {
	var render AppOptions

	cmd := &cobra.Command{
		Use:   "render [script]",
		Short: "Replay a script and render the page overlay",
		Long: `Replay a gesture script, then draw the page's measurements and
annotations. Formats: svg and png produce a vector overlay sized to the page
viewport; preview produces a labelled raster image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := *opts
			o.OutputFile = render.OutputFile
			o.Format = render.Format
			o.Scale = render.Scale
			o.Rotation = render.Rotation
			o.Selected = render.Selected
			app.ApplyOptions(o)
			return app.RunRender(args[0])
		},
	}

	cmd.Flags().StringVarP(&render.OutputFile, "output", "o", "overlay.svg", "Output file")
	cmd.Flags().StringVarP(&render.Format, "format", "f", "", "Output format: svg, png or preview (default: from the output extension)")
	cmd.Flags().Float64Var(&render.Scale, "scale", 1.0, "Render scale")
	cmd.Flags().IntVar(&render.Rotation, "rotation", 0, "Page rotation in degrees (0, 90, 180, 270)")
	cmd.Flags().StringSliceVar(&render.Selected, "highlight", nil, "Entity ids to draw as selected")
	return cmd
}
